// Package cli parses command lines of the form accepted by C compilers:
// long and short options, and prefix options such as -Wall whose name
// runs straight into their value.
package cli

import (
	"fmt"
	"strconv"
	"strings"
)

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

type boolValue struct{ p *bool }

// Set treats an empty string as a bare flag, which turns it on.
func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	prefixes   map[string]*Flag
	args       []string
	groups     []Group
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:       name,
		flags:      make(map[string]*Flag),
		shorthands: make(map[string]*Flag),
		prefixes:   make(map[string]*Flag),
	}
}

// Args returns the positional arguments left after Parse.
func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, "", expectedType)
}

// Prefix collects every argument starting with -prefix, minus the prefix.
func (f *FlagSet) Prefix(p *[]string, prefix, usage, expectedType string) {
	*p = []string{}
	f.Var(&listValue{p}, prefix, "", usage, "", expectedType)
	f.prefixes[prefix] = f.flags[prefix]
}

// Var panics on a redefinition since that is a bug in the caller.
func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok {
			panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
		}
		f.shorthands[shorthand] = flag
	}
}

// Parse accepts --name=value, --name value, -name value, -n value, -nvalue
// and prefix flags. A bare "-" is positional and "--" ends option parsing.
func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
			continue
		}

		dashes := 1
		if strings.HasPrefix(arg, "--") {
			dashes = 2
		}
		name, value, hasValue := strings.Cut(arg[dashes:], "=")
		if name == "" {
			return fmt.Errorf("empty flag name: %s", arg)
		}

		flag, ok := f.flags[name]
		if !ok || f.prefixes[name] != nil {
			if dashes == 2 {
				return fmt.Errorf("unknown flag: %s", arg)
			}
			if err := f.parseShort(arg, arguments, &i); err != nil {
				return err
			}
			continue
		}
		if hasValue {
			if err := flag.Value.Set(value); err != nil {
				return err
			}
			continue
		}
		if err := f.takeValue(flag, arg, arguments, &i); err != nil {
			return err
		}
	}
	return nil
}

func (f *FlagSet) takeValue(flag *Flag, arg string, arguments []string, i *int) error {
	if flag.isBool() {
		return flag.Value.Set("")
	}
	if *i+1 >= len(arguments) {
		return fmt.Errorf("flag needs an argument: %s", arg)
	}
	*i++
	return flag.Value.Set(arguments[*i])
}

// parseShort handles prefix flags and single-letter shorthands, whose value
// may be attached (-oout) or the next argument (-o out).
func (f *FlagSet) parseShort(arg string, arguments []string, i *int) error {
	for prefix, flag := range f.prefixes {
		if strings.HasPrefix(arg[1:], prefix) && len(arg) > len(prefix)+1 {
			return flag.Value.Set(arg[len(prefix)+1:])
		}
	}

	flag, ok := f.shorthands[arg[1:2]]
	if !ok {
		return fmt.Errorf("unknown flag: %s", arg)
	}
	if rest := arg[2:]; rest != "" && !flag.isBool() {
		return flag.Value.Set(strings.TrimPrefix(rest, "="))
	} else if rest != "" {
		return fmt.Errorf("unknown flag: %s", arg)
	}
	return f.takeValue(flag, arg, arguments, i)
}

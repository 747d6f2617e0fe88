package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xyproto/env/v2"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatComments Feature = iota
	FeatGlobalLet
	FeatCount
)

type Warning int

const (
	WarnUnusedVar Warning = iota
	WarnShadow
	WarnUnreachableCode
	WarnUnrecognizedEscape
	WarnExtra
	WarnCount
)

const (
	TargetLinux   = "linux"
	TargetWindows = "windows"
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features       map[Feature]Info
	Warnings       map[Warning]Info
	FeatureMap     map[string]Feature
	WarningMap     map[string]Warning
	Target         string
	HostTarget     string
	ImageBase      uint64
	WordSize       int
	StackAlignment int
	Verbose        bool
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
	}

	features := map[Feature]Info{
		FeatComments:  {"comments", true, "Recognize '//' line comments."},
		FeatGlobalLet: {"global-let", true, "Allow mutable 'let' variables at the top level, stored in the data section."},
	}

	warnings := map[Warning]Info{
		WarnUnusedVar:          {"unused-var", true, "Warn about variables that are declared but never used."},
		WarnShadow:             {"shadow", false, "Warn when a declaration hides one from an enclosing scope."},
		WarnUnreachableCode:    {"unreachable-code", true, "Warn about statements after 'return'."},
		WarnUnrecognizedEscape: {"unrecognized-escape", true, "Warn about unknown '\\' escapes in strings."},
		WarnExtra:              {"extra", true, "Enable extra miscellaneous warnings (e.g., unrecognized flags)."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// ApplyEnv reads JCC_TARGET and JCC_VERBOSE. Explicit flags applied later
// take precedence.
func (c *Config) ApplyEnv() {
	if t := env.Str("JCC_TARGET"); t != "" {
		c.Target = t
	}
	if env.Bool("JCC_VERBOSE") {
		c.Verbose = true
	}
}

func (c *Config) infof(format string, args ...interface{}) {
	if c.Verbose {
		fmt.Fprintf(os.Stderr, "jcc: info: "+format+"\n", args...)
	}
}

// SetTarget selects the output format. An empty target means the host,
// which is looked up the same way QBE picks its default backend.
func (c *Config) SetTarget(goos, goarch, target string) error {
	c.HostTarget = libqbe.DefaultTarget(goos, goarch)
	if target == "" {
		switch {
		case strings.HasPrefix(c.HostTarget, "amd64") && goos == TargetWindows:
			target = TargetWindows
		case strings.HasPrefix(c.HostTarget, "amd64"):
			target = TargetLinux
		default:
			fmt.Fprintf(os.Stderr, "jcc: warning: host target '%s' is not x86-64.\n", c.HostTarget)
			fmt.Fprintf(os.Stderr, "jcc: warning: defaulting to '%s'; the output will not run here.\n", TargetLinux)
			target = TargetLinux
		}
		c.infof("no target specified, defaulting to host target '%s' (%s)", target, c.HostTarget)
	} else {
		c.infof("using specified target '%s'", target)
	}

	switch target {
	case TargetLinux:
		c.ImageBase = 0x08000000
	case TargetWindows:
		c.ImageBase = 0x140000000
	default:
		return fmt.Errorf("unsupported target '%s'. Supported: '%s', '%s'", target, TargetLinux, TargetWindows)
	}
	c.Target = target
	c.WordSize, c.StackAlignment = 8, 16
	c.infof("image base 0x%x, %d-byte words, %d-byte stack alignment", c.ImageBase, c.WordSize, c.StackAlignment)
	return nil
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyFlag handles one -W/-Wno-/-F/-Fno- flag and reports whether its name
// was recognized.
func (c *Config) ApplyFlag(flag string) bool {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return true
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
			return true
		}
	} else if f, ok := c.FeatureMap[name]; ok {
		c.SetFeature(f, enable)
		return true
	}
	return false
}

// ProcessFlags applies -Wall/-Wno-all first so individual flags can
// override them. Unknown names are returned.
func (c *Config) ProcessFlags(flags []string) (unknown []string) {
	for _, f := range flags {
		if f == "Wall" || f == "Wno-all" {
			c.ApplyFlag("-" + f)
		}
	}
	for _, f := range flags {
		if f != "Wall" && f != "Wno-all" && !c.ApplyFlag("-"+f) {
			unknown = append(unknown, f)
		}
	}
	return unknown
}

// gtest compiles every fixture with jcc, runs the images and compares their
// output with the golden results stored next to each fixture.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	compiler    = flag.String("compiler", "./jcc", "Path to the jcc binary under test.")
	compilerArg = flag.String("args", "", "Extra arguments for the compiler (space-separated).")
	target      = flag.String("target", "", "Target passed to the compiler with -t. Empty means the host.")
	update      = flag.Bool("update", false, "Write golden files from the current results instead of comparing.")
	testFiles   = flag.String("test-files", "tests/*.jc", "Glob pattern(s) for files to test (space-separated).")
	skipFiles   = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON  = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout     = flag.Duration("timeout", 5*time.Second, "Timeout for each command execution.")
	jobs        = flag.Int("j", 4, "Number of parallel test jobs.")
	runs        = flag.Int("runs", 3, "Number of times to run each image to check its output is stable.")
	verbose     = flag.Bool("v", false, "Enable verbose logging.")
	ignoreLines = flag.String("ignore-lines", "", "Comma-separated substrings to ignore during output comparison.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	if *runs < 1 {
		*runs = 1
	}

	tempDir, err := os.MkdirTemp("", "gtest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)
	setupInterruptHandler(tempDir)

	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	results := runSuite(files, tempDir)
	printSummary(results)
	if err := writeJSONReport(results, *outputJSON); err != nil {
		log.Printf("%s[WARN]%s %v\n", cYellow, cNone, err)
	}
	if hasFailures(results) {
		os.Exit(1)
	}
}

// setupInterruptHandler is used to clean up on CTRL+C
func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func expandGlobPatterns(patterns string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range strings.Fields(patterns) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// runSuite tests files on a pool of workers. Files whose content hashes
// equal an earlier one are skipped.
func runSuite(files []string, tempDir string) []*FileTestResult {
	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[f] = true
	}
	runnable, why := hostCanRun(*target)
	if !runnable {
		log.Printf("%s[WARN]%s Images will be compiled but not run: %s\n", cYellow, cNone, why)
	}

	tasks := make(chan task, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				resultsChan <- testFile(t, tempDir, runnable)
			}
		}()
	}

	seenHashes := make(map[uint64]string)
	for _, file := range files {
		if skipList[file] {
			resultsChan <- &FileTestResult{File: file, Status: StatusSkip, Message: "Explicitly skipped"}
			continue
		}
		h, err := hashFile(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: StatusError, Message: fmt.Sprintf("Failed to read file for hashing: %v", err)}
			continue
		}
		if original, seen := seenHashes[h]; seen {
			resultsChan <- &FileTestResult{File: file, Status: StatusSkip, Message: fmt.Sprintf("Content is identical to %s", original)}
			continue
		}
		seenHashes[h] = file
		tasks <- task{file: file, hash: h}
	}
	close(tasks)
	wg.Wait()
	close(resultsChan)

	var all []*FileTestResult
	for r := range resultsChan {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].File < all[j].File })
	return all
}

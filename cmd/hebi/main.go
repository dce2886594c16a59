// Hebi CLI - compile and run hebi programs.
package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/hebi-lang/hebi"
	"github.com/hebi-lang/hebi/cache"
	"github.com/hebi-lang/hebi/manifest"
	"github.com/hebi-lang/hebi/vm"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hebi <command> [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run     Compile and run a script\n")
		fmt.Fprintf(os.Stderr, "  build   Compile a script to a program image\n")
		fmt.Fprintf(os.Stderr, "  disasm  Print a script's bytecode\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hebi run script.hebi\n")
		fmt.Fprintf(os.Stderr, "  hebi run               # entry from hebi.toml\n")
		fmt.Fprintf(os.Stderr, "  hebi build -o out.img script.hebi\n")
		fmt.Fprintf(os.Stderr, "  hebi disasm script.hebi\n")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch flag.Arg(0) {
	case "run":
		err = cmdRun(flag.Args()[1:])
	case "build":
		err = cmdBuild(flag.Args()[1:])
	case "disasm":
		err = cmdDisasm(flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hebi: %v\n", err)
		os.Exit(1)
	}
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	verbosity := fs.Int("v", 0, "Log verbosity (0=quiet)")
	maxDepth := fs.Int("max-depth", 0, "Call stack limit per task (0=default)")
	noCache := fs.Bool("no-cache", false, "Skip the compile cache")
	fs.Parse(args)

	path, man, err := resolveScript(fs.Args())
	if err != nil {
		return err
	}
	if man != nil && *maxDepth == 0 {
		*maxDepth = man.Run.MaxDepth
	}
	if man != nil && *verbosity == 0 {
		*verbosity = logVerbosity(man.Run.LogLevel)
	}
	commonlog.Configure(*verbosity, nil)

	prog, err := loadProgram(path, man, *noCache)
	if err != nil {
		return err
	}

	var opts []hebi.Option
	if *maxDepth > 0 {
		opts = append(opts, hebi.WithMaxDepth(*maxDepth))
	}
	rt := hebi.New(opts...)
	if _, err := rt.Run(prog); err != nil {
		if re, ok := err.(*vm.RuntimeError); ok {
			// Show the hebi-level traceback, not a Go error chain.
			fmt.Fprintln(os.Stderr, re.Error())
			os.Exit(1)
		}
		return err
	}
	return nil
}

func cmdBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	output := fs.String("o", "", "Output image path")
	fs.Parse(args)

	path, man, err := resolveScript(fs.Args())
	if err != nil {
		return err
	}
	out := *output
	if out == "" && man != nil && man.Image.Output != "" {
		out = man.Image.Output
	}
	if out == "" {
		out = trimExt(path) + ".img"
	}

	prog, err := compileFile(path)
	if err != nil {
		return err
	}
	data, err := prog.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", out, len(data))
	return nil
}

func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)

	path, _, err := resolveScript(fs.Args())
	if err != nil {
		return err
	}
	prog, err := compileFile(path)
	if err != nil {
		return err
	}
	fmt.Print(prog.Disassemble())
	return nil
}

// resolveScript picks the script to operate on: an explicit argument,
// or the manifest entry when run inside a project.
func resolveScript(args []string) (string, *manifest.Manifest, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	man, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return "", nil, err
	}
	if len(args) > 0 {
		return args[0], man, nil
	}
	if man == nil {
		return "", nil, fmt.Errorf("no script given and no hebi.toml found")
	}
	return man.EntryPath(), man, nil
}

func compileFile(path string) (*hebi.Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return hebi.Compile(string(source))
}

// loadProgram compiles a script, going through the project's image
// cache when one is configured. A cache hit skips the compiler
// entirely; a broken cache never blocks a run.
func loadProgram(path string, man *manifest.Manifest, noCache bool) (*hebi.Program, error) {
	if noCache || man == nil || !man.Cache.Enabled {
		return compileFile(path)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := cache.Open(man.CachePath())
	if err != nil {
		return hebi.Compile(string(source))
	}
	defer c.Close()

	hash := sha256.Sum256(source)
	if data, cerr := c.Get(hash); cerr == nil {
		if cached, lerr := hebi.LoadProgram(data); lerr == nil {
			cached.SourceHash = hash
			return cached, nil
		}
	}

	prog, err := hebi.Compile(string(source))
	if err != nil {
		return nil, err
	}
	if data, merr := prog.MarshalBinary(); merr == nil {
		c.Put(prog.SourceHash, data)
	}
	return prog, nil
}

// logVerbosity maps a manifest log-level name to a commonlog verbosity.
func logVerbosity(level string) int {
	switch level {
	case "info":
		return 1
	case "debug":
		return 2
	default:
		return 0
	}
}

func trimExt(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)]
}

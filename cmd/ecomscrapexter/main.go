// cmd/ecomscrapexter/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/valpere/ecomscrapexter/internal/config"
	crawlerrors "github.com/valpere/ecomscrapexter/internal/errors"
	"github.com/valpere/ecomscrapexter/internal/sites"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches the command line and returns the exit status.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	var err error
	switch command := args[0]; command {
	case "run":
		err = runCommand(args[1:], stderr)
	case "validate":
		err = validateCommand(args[1:], stdout, stderr)
	case "template":
		err = templateCommand(stdout)
	case "sites":
		for _, name := range sites.Names() {
			fmt.Fprintln(stdout, name)
		}
	case "version", "--version":
		printVersion(stdout)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Error: unknown command '%s'\n", command)
		printUsage(stderr)
		return 1
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return crawlerrors.ExitCode(err)
}

func runCommand(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "configuration file (defaults apply when empty)")
	siteList := fs.String("sites", "", "comma-separated sites to crawl (default: configured sites)")
	startURL := fs.String("url", "", "crawl this product URL instead of the configured start URLs (single site only)")
	watch := fs.Bool("watch", false, "reload the log level when the configuration file changes")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}

	opts := runOptions{
		ConfigFile: *configFile,
		Sites:      splitList(*siteList),
		StartURL:   *startURL,
		Watch:      *watch,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runCrawl(ctx, cfg, opts)
}

func validateCommand(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}
	if *configFile == "" && fs.NArg() > 0 {
		*configFile = fs.Arg(0)
	}
	if *configFile == "" {
		return usageError(fmt.Errorf("config file required"))
	}

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "✓ Configuration file '%s' is valid\n", *configFile)
	fmt.Fprintf(stdout, "  Sites: %s\n", strings.Join(cfg.SiteNames(), ", "))
	for _, out := range cfg.Output {
		fmt.Fprintf(stdout, "  Output: %s\n", out.Format)
	}
	return nil
}

// templateCommand prints the default configuration as YAML.
func templateCommand(stdout io.Writer) error {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to marshal template to YAML: %w", err)
	}
	_, err = stdout.Write(data)
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromBytes(nil)
	}
	return config.LoadFromFile(path)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// usageError reports bad command line arguments with the configuration
// exit status. -h is not an error.
func usageError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return utils.InvalidConfig(err.Error())
}

// printUsage displays help information
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ecomscrapexter - product crawler for French retail sites")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ecomscrapexter run [-config file] [-sites a,b] [-url URL] [-watch]   Crawl the selected sites")
	fmt.Fprintln(w, "  ecomscrapexter validate -config file                                 Validate configuration file")
	fmt.Fprintln(w, "  ecomscrapexter template                                              Print the default configuration")
	fmt.Fprintln(w, "  ecomscrapexter sites                                                 List the known sites")
	fmt.Fprintln(w, "  ecomscrapexter version                                               Show version information")
	fmt.Fprintln(w, "  ecomscrapexter help                                                  Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  PROXY_USER, PROXY_PASSWORD, PROXY_ENDPOINT, PROXY_PORT override the proxy section")
}

// printVersion displays version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ecomscrapexter %s\n", version)
	fmt.Fprintf(w, "Build time: %s\n", buildTime)
	fmt.Fprintf(w, "Git commit: %s\n", gitCommit)
}

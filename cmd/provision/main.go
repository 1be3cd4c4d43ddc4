// Package main provisions tenant resources for one user from the command
// line, without starting the HTTP server.
//
//	provision --email jane@example.com
//	provision --keycloak-id 6f1c... --email jane@example.com --first-name Jane
//	provision --keycloak-id 6f1c... --email jane@example.com --create-user
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"nexaauth.io/provisioner/internal/app"
	"nexaauth.io/provisioner/internal/config"
	"nexaauth.io/provisioner/internal/pkg/logger"
	"nexaauth.io/provisioner/internal/provisioning"
)

// exitPartial is returned when the run finished with failed stages.
const exitPartial = 2

var errStagesFailed = errors.New("some stages failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errStagesFailed):
		fmt.Fprintf(os.Stderr, "provision: %v\n", err)
		os.Exit(exitPartial)
	default:
		fmt.Fprintf(os.Stderr, "provision error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
	subjectID  string
	email      string
	firstName  string
	lastName   string
	createUser bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("provision", pflag.ContinueOnError)
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to the configuration file")
	flags.StringVar(&opts.subjectID, "keycloak-id", "", "Keycloak user id; when empty the user is resolved by --email")
	flags.StringVar(&opts.email, "email", "", "user email (required)")
	flags.StringVar(&opts.firstName, "first-name", "", "given name used for resource names")
	flags.StringVar(&opts.lastName, "last-name", "", "family name used for resource names")
	flags.BoolVar(&opts.createUser, "create-user", false, "create the Keycloak user when absent")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	opts.subjectID = strings.TrimSpace(opts.subjectID)
	opts.email = strings.TrimSpace(opts.email)
	if opts.email == "" {
		return options{}, fmt.Errorf("--email is required")
	}
	if opts.createUser && opts.subjectID == "" {
		return options{}, fmt.Errorf("--create-user requires --keycloak-id")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	return execute(ctx, application.Provisioner, opts, out)
}

type provisioner interface {
	Provision(ctx context.Context, id provisioning.Identity) (*provisioning.Result, error)
	ProvisionWithUser(ctx context.Context, id provisioning.Identity) (*provisioning.Result, error)
	ProvisionByEmail(ctx context.Context, email string) (*provisioning.Result, error)
}

// execute runs one workflow and writes the result document to out.
func execute(ctx context.Context, p provisioner, opts options, out io.Writer) error {
	var (
		res *provisioning.Result
		err error
	)
	id := provisioning.Identity{
		SubjectID: opts.subjectID,
		Email:     opts.email,
		FirstName: opts.firstName,
		LastName:  opts.lastName,
	}
	switch {
	case opts.subjectID == "":
		res, err = p.ProvisionByEmail(ctx, opts.email)
	case opts.createUser:
		res, err = p.ProvisionWithUser(ctx, id)
	default:
		res, err = p.Provision(ctx, id)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%w: %s", errStagesFailed, strings.Join(failed, ", "))
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/treebank/internal/catalog"
	"github.com/vbonduro/treebank/internal/config"
	"github.com/vbonduro/treebank/internal/domain"
	"github.com/vbonduro/treebank/internal/logging"
	"github.com/vbonduro/treebank/internal/portfolio"
	"github.com/vbonduro/treebank/internal/service"
	"github.com/vbonduro/treebank/internal/web"
)

const shutdownTimeout = 10 * time.Second

// Run parses args and executes the selected command. Command output (JSON,
// messages) goes to stdout; logs go to stderr and LOG_FILE.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		cfg     *config.Config
		logger  *slog.Logger
		cleanup func()
	)

	serve := cmdServe(&cfg, &logger)
	root := &cli.Command{
		Name:    "treebank",
		Usage:   "Tree photo analysis and portfolio tracking",
		Version: version,
		Writer:  stdout,
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			cfg = config.Load()
			l, f, err := logging.New(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return ctx, goerr.Wrap(err, "failed to initialize logger")
			}
			logger, cleanup = l, f
			return ctx, nil
		},
		After: func(context.Context, *cli.Command) error {
			if cleanup != nil {
				cleanup()
			}
			return nil
		},
		Action: serve.Action,
		Commands: []*cli.Command{
			serve,
			cmdAnalyze(&cfg, &logger, stdout),
			cmdTrees(&cfg, stdout),
			cmdInit(&cfg, stdout),
		},
	}

	if err := root.Run(ctx, args); err != nil {
		if logger != nil {
			logger.Error("command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

func cmdServe(cfg **config.Config, logger **slog.Logger) *cli.Command {
	var addr string

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API (default)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address, overrides LISTEN_ADDR",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			a, err := newApp(ctx, *cfg, *logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = (*cfg).ListenAddr
			}
			srv := web.NewServer(a.service, a.metrics.Handler(), *logger).HTTPServer(addr)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, srv, *logger)
		},
	}
}

// runServer serves until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "failed to start server", goerr.V("addr", srv.Addr))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown server gracefully")
		}
		logger.Info("server shutdown completed")
		return nil
	})

	return g.Wait()
}

type analyzeOutput struct {
	Analysis *service.AnalyzeOutcome `json:"analysis"`
	Tree     *domain.TreeRecord      `json:"tree,omitempty"`
}

func cmdAnalyze(cfg **config.Config, logger **slog.Logger, stdout io.Writer) *cli.Command {
	var (
		species  string
		question string
		location string
		name     string
		notes    string
		save     bool
	)

	return &cli.Command{
		Name:      "analyze",
		Aliases:   []string{"a"},
		Usage:     "Analyze one tree photo and print the result as JSON",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "species", Usage: "catalog key of the species template", Destination: &species},
			&cli.StringFlag{Name: "question", Usage: "question for the model", Destination: &question},
			&cli.StringFlag{Name: "location", Usage: "where the tree grows", Destination: &location},
			&cli.BoolFlag{Name: "save", Usage: "save the result to the portfolio", Destination: &save},
			&cli.StringFlag{Name: "name", Usage: "name for the saved tree", Destination: &name},
			&cli.StringFlag{Name: "notes", Usage: "notes for the saved tree", Destination: &notes},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("analyze takes exactly one image path")
			}
			path := c.Args().First()
			data, err := os.ReadFile(path) // #nosec G304 - path is a CLI argument
			if err != nil {
				return goerr.Wrap(err, "failed to read image", goerr.V("path", path))
			}

			a, err := newApp(ctx, *cfg, *logger)
			if err != nil {
				return err
			}
			defer a.Close()

			mimeType := http.DetectContentType(data)
			outcome, err := a.service.Analyze(ctx, service.AnalyzeRequest{
				Image:      data,
				MIMEType:   mimeType,
				SpeciesKey: species,
				Question:   question,
				Location:   location,
			})
			if err != nil {
				return err
			}

			out := analyzeOutput{Analysis: outcome}
			if save {
				rec, err := a.service.SaveTree(ctx, service.SaveRequest{
					Outcome:  outcome,
					Image:    data,
					Name:     name,
					Location: location,
					Notes:    notes,
				})
				if err != nil {
					return err
				}
				out.Tree = &rec
			}
			return printJSON(stdout, out)
		},
	}
}

func cmdTrees(cfg **config.Config, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "trees",
		Usage: "Print the saved portfolio as JSON, newest first",
		Action: func(ctx context.Context, _ *cli.Command) error {
			trees, err := portfolio.Open((*cfg).PortfolioPath)
			if err != nil {
				return err
			}
			records, err := trees.List(ctx)
			if err != nil {
				return err
			}
			portfolio.SortByCreated(records)
			return printJSON(stdout, records)
		},
	}
}

func cmdInit(cfg **config.Config, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write the default species catalog and an empty portfolio if missing",
		Action: func(_ context.Context, _ *cli.Command) error {
			path := (*cfg).CatalogPath
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(stdout, "catalog already exists: %s\n", path)
			} else if errors.Is(err, os.ErrNotExist) {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return goerr.Wrap(err, "failed to create catalog directory", goerr.V("path", path))
				}
				if err := os.WriteFile(path, catalog.DefaultJSON(), 0o644); err != nil { // #nosec G306 - catalog is not secret
					return goerr.Wrap(err, "failed to write catalog", goerr.V("path", path))
				}
				fmt.Fprintf(stdout, "wrote default catalog: %s\n", path)
			} else {
				return goerr.Wrap(err, "failed to stat catalog", goerr.V("path", path))
			}

			trees, err := portfolio.Open((*cfg).PortfolioPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "portfolio: %s\n", trees.Path())
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}

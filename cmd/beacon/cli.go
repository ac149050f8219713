package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/ops"
	"github.com/hpungsan/beacon/internal/session"
	"github.com/hpungsan/beacon/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// rt may be nil when only help or version output is needed.
func newCLIApp(rt *runtime) *cli.App {
	defaultUser := ""
	if rt != nil {
		defaultUser = rt.cfg.DefaultUserID
	}

	app := &cli.App{
		Name:    "beacon",
		Usage:   "Context presence and action hooks",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Value: defaultUser, Usage: "User to act as (default: config default_user_id)"},
		},
		Commands: []*cli.Command{
			statusCmd(rt),
			setCmd(rt),
			historyCmd(rt),
			hooksCmd(rt),
			watchCmd(rt),
			serveCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// statusCmd creates the status command.
func statusCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the current context",
		Action: func(c *cli.Context) error {
			output, err := ops.GetContext(c.Context, rt.store, ops.GetContextInput{UserID: c.String("user")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// setCmd creates the set command.
func setCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Update context fields (the first field is the one recorded in history)",
		ArgsUsage: "field=value [field=value ...]",
		Action: func(c *cli.Context) error {
			patch, err := parseAssignments(c.Args().Slice())
			if err != nil {
				return outputError(err)
			}

			output, err := ops.UpdateContext(c.Context, rt.sessions, ops.UpdateContextInput{
				UserID: c.String("user"),
				Patch:  patch,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command and its purge subcommand.
func historyCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List context changes, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultHistoryLimit, Usage: "Maximum entries"},
			&cli.IntFlag{Name: "offset", Usage: "Entries to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListHistory(c.Context, rt.store, ops.ListHistoryInput{
				UserID: c.String("user"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
		Subcommands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Permanently delete history entries",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "older-than", Usage: "Only purge entries older than N days (e.g., 30d)"},
					&cli.BoolFlag{Name: "all-users", Usage: "Purge every user's history"},
				},
				Action: func(c *cli.Context) error {
					input := ops.PurgeHistoryInput{}
					if !c.Bool("all-users") {
						input.UserID = c.String("user")
						if strings.TrimSpace(input.UserID) == "" {
							return outputError(errors.NewInvalidRequest("--user or --all-users is required"))
						}
					}
					if olderThan := c.String("older-than"); olderThan != "" {
						days, err := parseDuration(olderThan)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						input.OlderThanDays = &days
					}

					output, err := ops.PurgeHistory(c.Context, rt.store, input, rt.env.Now())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// hooksCmd creates the hooks command group.
func hooksCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "hooks",
		Usage: "Manage action hooks",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create an action hook",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Hook name"},
					&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "Trigger preset (status_change, energy_low, energy_high, focus_start, focus_end, privacy_change, or a field name)"},
					&cli.StringFlag{Name: "condition", Usage: `Raw trigger as JSON, e.g. {"field":"energyLevel","operator":"lt","value":20}`},
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Required: true, Usage: "Action type: webhook|notification|integration_update"},
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: `Action config as JSON, e.g. {"url":"https://example.com/hook"}`},
					&cli.BoolFlag{Name: "inactive", Usage: "Create the hook switched off"},
				},
				Action: func(c *cli.Context) error {
					condition, err := parseJSONObject("condition", c.String("condition"))
					if err != nil {
						return outputError(err)
					}
					config, err := parseJSONObject("config", c.String("config"))
					if err != nil {
						return outputError(err)
					}

					output, err := ops.CreateHook(c.Context, rt.env, ops.CreateHookInput{
						UserID:       c.String("user"),
						Name:         c.String("name"),
						Preset:       c.String("preset"),
						Condition:    condition,
						ActionType:   c.String("action"),
						ActionConfig: config,
						Inactive:     c.Bool("inactive"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List action hooks, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active-only", Usage: "Only list active hooks"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum hooks"},
					&cli.IntFlag{Name: "offset", Usage: "Hooks to skip"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListHooks(c.Context, rt.env, ops.ListHooksInput{
						UserID:     c.String("user"),
						ActiveOnly: c.Bool("active-only"),
						Limit:      c.Int("limit"),
						Offset:     c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "toggle",
				Usage:     "Switch a hook on or off (flips it without --on/--off)",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "on", Usage: "Switch on"},
					&cli.BoolFlag{Name: "off", Usage: "Switch off"},
				},
				Action: func(c *cli.Context) error {
					input := ops.ToggleHookInput{ID: c.Args().First()}
					switch {
					case c.Bool("on") && c.Bool("off"):
						return outputError(errors.NewInvalidRequest("--on and --off are mutually exclusive"))
					case c.Bool("on"):
						active := true
						input.Active = &active
					case c.Bool("off"):
						active := false
						input.Active = &active
					}

					output, err := ops.ToggleHook(c.Context, rt.env, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Permanently delete a hook",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DeleteHook(c.Context, rt.env, ops.DeleteHookInput{ID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "test",
				Usage:     "Run a hook's action once against the current context",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.TestHook(c.Context, rt.env, ops.TestHookInput{ID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// watchCmd creates the watch command.
func watchCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Subscribe to live context updates and print them as JSON lines until interrupted",
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext(c.Context)
			defer stop()

			s, err := rt.sessions.Get(ctx, c.String("user"))
			if err != nil {
				return outputError(err)
			}
			return watchSession(ctx, s, os.Stdout)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with live websocket streams",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(web.Deps{
				Env:      rt.env,
				Sessions: rt.sessions,
				Logger:   rt.logger,
			}, c.String("bind"), c.Int("port"))
			return web.Run(c.Context, srv, rt.logger)
		},
	}
}

// watchSession writes a snapshot of s, then one JSON line per update, until
// ctx is done. Lines use the websocket stream's message shape.
func watchSession(ctx context.Context, s *session.Session, w io.Writer) error {
	updates := make(chan session.Update, 64)
	cancel := s.Watch(func(u session.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	defer cancel()

	enc := json.NewEncoder(w)
	if err := enc.Encode(web.StreamMessage{Type: web.StreamSnapshot, Context: s.Capsule()}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			msg := web.StreamMessage{Type: web.StreamContextUpdate, Context: u.Capsule, Entry: u.Entry, Remote: u.Remote}
			if err := enc.Encode(msg); err != nil {
				return err
			}
		}
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if bErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", bErr.Code, bErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseAssignments turns field=value arguments into a patch in argument
// order. Values are read as JSON when they parse (numbers, true/false,
// null), otherwise as plain strings.
func parseAssignments(args []string) (*capsule.Patch, error) {
	if len(args) == 0 {
		return nil, errors.NewInvalidRequest("at least one field=value is required")
	}

	p := capsule.NewPatch()
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("expected field=value, got %q", arg))
		}
		if p.Has(capsule.Field(field)) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("field %q given more than once", field))
		}
		p.Set(capsule.Field(field), parseValue(raw))
	}
	return p, nil
}

// parseValue reads a scalar JSON value, falling back to the raw string.
func parseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool, nil, string:
			return v
		}
	}
	return raw
}

// parseJSONObject decodes an optional JSON object flag.
func parseJSONObject(flag, s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("--%s must be a JSON object: %v", flag, err))
	}
	return m, nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

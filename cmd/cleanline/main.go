package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cleanline/internal/app"
	"cleanline/internal/board"
	"cleanline/internal/config"
	"cleanline/internal/db"
	"cleanline/internal/engine"
	"cleanline/internal/repo"
	"cleanline/internal/server"
	cleanlinesdk "cleanline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "cleanline",
	Short: "Cleanline CLI",
	Long: `Cleanline tracks recurring cleaning work across rooms.
A manager maintains the catalogue (rooms, performers, assigned tasks);
each day a session is opened, cleaners validate tasks as they go, and the
session is closed once enough of the day's tasks are done.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("CLEANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "API server base URL")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(roomCmd())
	rootCmd.AddCommand(performerCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(todayCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(eventsCmd())
}

func initCmd() *cobra.Command {
	var facility string
	var seed bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(facility)), 0o644); err != nil {
				return err
			}
			if _, err := config.FromFile(path); err != nil {
				return fmt.Errorf("generated config is invalid: %w", err)
			}
			e, closeFn, err := app.OpenEngine(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer closeFn()
			if seed {
				rooms, tasks, err := e.SeedCatalogue(cmd.Context(), "local-admin")
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d rooms and %d tasks from the catalogue\n", rooms, tasks)
			}
			fmt.Printf("Initialized workspace at %s (db %s)\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&facility, "facility", "cleanline", "facility name")
	cmd.Flags().BoolVar(&seed, "seed", true, "seed rooms and tasks from the catalogue")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			secret := os.Getenv("CLEANLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("CLEANLINE_JWT_SECRET is required for bearer auth")
			}
			uploadsDir, err := db.UploadsDir(workspace)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:     e,
				BasePath:   basePath,
				UploadsDir: uploadsDir,
				Auth: server.AuthConfig{
					JWTSecret:      secret,
					AccessTokenTTL: time.Duration(cfg.AccessTokenTTL()) * time.Minute,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Cleanline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func roomCmd() *cobra.Command {
	room := &cobra.Command{Use: "room", Short: "Manage rooms"}

	var name, floor string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.CreateRoom(ctx, name, floor, "local-admin")
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "room name")
	create.Flags().StringVar(&floor, "floor", "", "floor")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rooms, err := e.Repo.ListRooms(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rooms)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Floor"})
				for _, r := range rooms {
					tw.AppendRow(table.Row{r.ID, r.Name, r.Floor})
				}
				tw.Render()
				return nil
			})
		},
	}

	room.AddCommand(create, list)
	return room
}

func performerCmd() *cobra.Command {
	performer := &cobra.Command{Use: "performer", Short: "Manage performers"}

	var name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create performer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePerformer(ctx, name, role, "local-admin")
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "performer name")
	create.Flags().StringVar(&role, "role", "", "role label")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List performers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				performers, err := e.Repo.ListPerformers(ctx, false)
				if err != nil {
					return err
				}
				return printJSONOrTable(performers)
			})
		},
	}

	performer.AddCommand(create, list)
	return performer
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage assigned tasks"}

	var opts engine.TaskAssignOptions
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Assign a recurring task to a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = "local-admin"
				t, err := e.AssignTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	assign.Flags().StringVar(&opts.RoomID, "room", "", "room id")
	assign.Flags().StringVar(&opts.Name, "name", "", "task name")
	assign.Flags().StringVar(&opts.Description, "description", "", "description")
	assign.Flags().StringVar(&opts.Frequency, "frequency", "daily", "daily, weekly, or monthly")
	assign.Flags().StringVar(&opts.SuggestedTime, "time", "", "suggested time (HH:MM)")
	assign.Flags().StringVar(&opts.DefaultPerformerID, "performer", "", "default performer id")
	_ = assign.MarkFlagRequired("room")
	_ = assign.MarkFlagRequired("name")

	var roomFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List assigned tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListAssignedTasks(ctx, repo.AssignedTaskFilters{RoomID: roomFilter})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Room", "Name", "Frequency", "Active"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.RoomID, t.Name, t.Frequency, t.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&roomFilter, "room", "", "filter by room id")

	task.AddCommand(assign, list)
	return task
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login against the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL := viper.GetString("server")
			client := cleanlinesdk.New(baseURL)
			grant, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			creds := app.Credentials{
				BaseURL:      baseURL,
				Email:        email,
				AccessToken:  grant.AccessToken,
				RefreshToken: grant.RefreshToken,
				ExpiresIn:    grant.ExpiresIn,
			}
			if err := app.SaveCredentials(viper.GetString("workspace"), creds); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s)\n", grant.User.Email, grant.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the server session and forget local credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withClient(cmd.Context(), func(ctx context.Context, client *cleanlinesdk.Client) error {
				return client.Logout(ctx)
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: server-side revoke failed: %v\n", err)
			}
			if err := app.DeleteCredentials(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func todayCmd() *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show today's session board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, s *board.Store) error {
				if open {
					client := s.Client
					if _, err := client.OpenSession(ctx, ""); err != nil {
						return err
					}
				}
				if err := s.Refresh(ctx); err != nil {
					return err
				}
				return renderBoard(s.View())
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "open today's session first")
	return cmd
}

func validateCmd() *cobra.Command {
	var status, performedBy, notes string
	var photos []string
	cmd := &cobra.Command{
		Use:   "validate <task-id>",
		Short: "Record a task validation for today's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			return withBoard(cmd.Context(), func(ctx context.Context, s *board.Store) error {
				if err := s.Refresh(ctx); err != nil {
					return err
				}
				files := map[string][]byte{}
				for _, p := range photos {
					data, err := os.ReadFile(p)
					if err != nil {
						return err
					}
					files[p] = data
				}
				l, err := s.SaveTask(ctx, board.SaveOptions{
					TaskID:      taskID,
					Status:      status,
					PerformedBy: performedBy,
					Notes:       notes,
					Photos:      files,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "done", "todo, in_progress, done, partial, skipped, or blocked")
	cmd.Flags().StringVar(&performedBy, "performer", "", "performer id")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringArrayVar(&photos, "photo", nil, "photo file (repeatable)")
	return cmd
}

func watchCmd() *cobra.Command {
	var interval int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll today's session and re-render the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				interval = cfg.PollInterval()
			}
			return withBoard(cmd.Context(), func(ctx context.Context, s *board.Store) error {
				if err := s.Refresh(ctx); err != nil {
					return err
				}
				if err := renderBoard(s.View()); err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				stopPolling, err := s.StartPolling(ctx, interval, func(err error) {
					fmt.Fprintln(os.Stderr, "poll error:", err)
				})
				if err != nil {
					return err
				}
				defer stopPolling()

				last := s.View()
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						v := s.View()
						if v.GlobalProgress != last.GlobalProgress {
							if err := renderBoard(v); err != nil {
								return err
							}
							last = v
						}
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 15, "poll interval in seconds (default from cleanline.yml polling.interval_seconds)")
	return cmd
}

func sessionCmd() *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Manage sessions"}

	open := &cobra.Command{
		Use:   "open",
		Short: "Open today's session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, client *cleanlinesdk.Client) error {
				s, err := client.OpenSession(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}

	var incomplete bool
	complete := &cobra.Command{
		Use:   "complete",
		Short: "Close today's session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), func(ctx context.Context, s *board.Store) error {
				if err := s.Refresh(ctx); err != nil {
					return err
				}
				if incomplete {
					closed, err := s.CloseIncomplete(ctx)
					if err != nil {
						return err
					}
					return printJSONOrTable(closed)
				}
				closed, err := s.CompleteSession(ctx)
				if errors.Is(err, board.ErrBelowThreshold) {
					return fmt.Errorf("%v; rerun with --incomplete to close the day anyway", err)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(closed)
			})
		},
	}
	complete.Flags().BoolVar(&incomplete, "incomplete", false, "close the session as incomplete even below the threshold")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sessions, err := e.Repo.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sessions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Status", "Done", "Total"})
				for _, s := range sessions {
					tw.AppendRow(table.Row{s.ID, s.Date, s.Status, s.CompletedTasks, s.TotalTasks})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 30, "number of sessions")

	session.AddCommand(open, complete, list)
	return session
}

func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export today's session report as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, client *cleanlinesdk.Client) error {
				s, err := client.TodaySession(ctx)
				if err != nil {
					return err
				}
				data, err := client.DownloadReport(ctx, s.ID)
				if err != nil {
					return err
				}
				if out == "" {
					_, err := os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}

func eventsCmd() *cobra.Command {
	var limit int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the latest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, limit, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "ID", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "filter by entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "filter by entity id")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := app.OpenEngine(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func withClient(ctx context.Context, fn func(context.Context, *cleanlinesdk.Client) error) error {
	workspace := viper.GetString("workspace")
	creds, err := app.LoadCredentials(workspace)
	if err != nil {
		return err
	}
	client := cleanlinesdk.New(creds.BaseURL)
	src := client.Tokens.(*cleanlinesdk.RefreshTokenSource)
	src.SetSession(creds.AccessToken, creds.RefreshToken, creds.ExpiresIn)
	client.OnAuthFailure = func(err error) {
		fmt.Fprintln(os.Stderr, "session expired; run cleanline login again")
	}
	return fn(ctx, client)
}

func withBoard(ctx context.Context, fn func(context.Context, *board.Store) error) error {
	return withClient(ctx, func(ctx context.Context, client *cleanlinesdk.Client) error {
		cfg, err := config.LoadOptional(viper.GetString("workspace"))
		if err != nil {
			return err
		}
		return fn(ctx, board.NewStore(client, cfg.CompletionThreshold()))
	})
}

func renderBoard(v board.View) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Printf("Session %s [%s] %d%% (%d/%d tasks done)\n",
		v.Session.Date, v.Session.Status, v.GlobalProgress.Percentage,
		v.GlobalProgress.Completed, v.GlobalProgress.Total)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Room", "Task", "Status", "Performer", "Progress"})
	for _, g := range v.TaskGroups {
		for i, t := range g.Tasks {
			progress := ""
			if i == 0 {
				progress = fmt.Sprintf("%d%% (%d/%d)", g.Progress.Percentage, g.Progress.Completed, g.Progress.Total)
			}
			tw.AppendRow(table.Row{g.RoomName, t.Task.Name, t.Status, t.PerformedBy, progress})
		}
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

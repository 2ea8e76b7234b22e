// Command console is an interactive SQL console over an Access-style
// database file.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	ucanaccess "github.com/notzippy/ucanaccess-code"
	"github.com/notzippy/ucanaccess-code/cfg"
	"github.com/notzippy/ucanaccess-code/telemetry"
)

var (
	configPath = flag.String("config", "", "Path to TOML configuration file")
	createFlag = flag.Bool("create", false, "Create the database file when missing")
	readOnly   = flag.Bool("read-only", false, "Open the database file read-only")
	verbose    = flag.Bool("verbose", false, "Debug logging")
	execFlag   = flag.String("e", "", "Run the given statements and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <database file>\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := cfg.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *createFlag {
		conf.File.Create = true
	}
	if *readOnly {
		conf.File.ReadOnly = true
	}
	if *verbose {
		conf.Logging.Verbose = true
	}
	if err := conf.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })
	if conf.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).With().Timestamp().Logger()
	if conf.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.WarnLevel)
	}

	telemetry.InitializeTelemetry(conf.Prometheus.Enabled)
	telemetry.InitMetrics()
	if srv := startMetrics(conf); srv != nil {
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := ucanaccess.Open(ctx, flag.Arg(0), conf)
	if err != nil {
		log.Fatal().Err(err).Str("path", flag.Arg(0)).Msg("Failed to open database")
	}
	defer conn.Close()

	c := &console{conn: conn, out: os.Stdout}
	if *execFlag != "" {
		if !c.runScript(ctx, strings.NewReader(*execFlag), false) {
			conn.Close()
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(c.out, "Connected to %s (%s). Statements end with ';', type help for commands.\n", conn.Path(), conn.Format())
	c.runScript(ctx, os.Stdin, true)
}

// startMetrics serves /metrics when prometheus is enabled.
func startMetrics(conf *cfg.Configuration) *http.Server {
	handler := telemetry.GetMetricsHandler()
	if handler == nil {
		return nil
	}
	r := chi.NewRouter()
	r.Handle("/metrics", handler)
	srv := &http.Server{Addr: conf.Prometheus.Address, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", conf.Prometheus.Address).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("address", conf.Prometheus.Address).Msg("Serving metrics")
	return srv
}

type console struct {
	conn *ucanaccess.Conn
	out  io.Writer
}

// runScript executes statements and commands read from in until EOF or
// quit. It reports whether every statement succeeded.
func (c *console) runScript(ctx context.Context, in io.Reader, interactive bool) bool {
	lines := bufio.NewScanner(in)
	lines.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var sc scanner
	ok := true
	prompt := func() {
		if !interactive {
			return
		}
		if sc.pending() {
			fmt.Fprint(c.out, "   ...> ")
		} else {
			fmt.Fprint(c.out, "access> ")
		}
	}

	prompt()
	for lines.Scan() {
		if ctx.Err() != nil {
			return false
		}
		line := lines.Text()
		if !sc.pending() {
			if name, args, isCmd := command(line); isCmd {
				if name == "quit" || name == "exit" {
					return ok
				}
				if err := c.command(ctx, name, args); err != nil {
					c.report(err)
					ok = false
				}
				prompt()
				continue
			}
		}
		for _, stmt := range sc.feed(line) {
			if err := c.run(ctx, stmt); err != nil {
				c.report(err)
				ok = false
			}
		}
		prompt()
	}
	if stmt := sc.flush(); stmt != "" {
		if err := c.run(ctx, stmt); err != nil {
			c.report(err)
			ok = false
		}
	}
	return ok
}

func (c *console) report(err error) {
	fmt.Fprintf(c.out, "Error: %v\n", err)
	if ucanaccess.IsRetryable(err) {
		fmt.Fprintln(c.out, "The file is locked by another writer; the transaction was undone and may be retried.")
	}
}

func (c *console) command(ctx context.Context, name string, args []string) error {
	switch name {
	case "begin":
		return c.conn.Begin(ctx)
	case "commit":
		return c.conn.Commit(ctx)
	case "rollback":
		return c.conn.Rollback(ctx)
	case "autocommit":
		if len(args) == 0 {
			fmt.Fprintf(c.out, "autocommit is %s\n", onOff(c.conn.AutoCommit()))
			return nil
		}
		return c.conn.SetAutoCommit(ctx, strings.EqualFold(args[0], "on"))
	case "tables":
		c.tables()
		return nil
	case "help":
		fmt.Fprintln(c.out, `Commands:
  tables               list tables and their columns
  begin                start a transaction
  commit               commit and write back to the file
  rollback             discard the open transaction
  autocommit [on|off]  show or switch auto-commit
  quit                 leave the console
Anything else is Access SQL ending with ';'.`)
		return nil
	}
	return fmt.Errorf("unknown command %s", name)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (c *console) tables() {
	tables := c.conn.Mirror().Tables()
	sort.Slice(tables, func(i, j int) bool { return tables[i].SourceName() < tables[j].SourceName() })

	var data [][]string
	for _, t := range tables {
		for _, col := range t.Columns {
			typ := col.Meta.Type.String()
			if col.Meta.AutoNumber {
				typ += " (autonumber)"
			}
			data = append(data, []string{t.SourceName(), col.SourceName(), typ, t.Name + "." + col.Name})
		}
	}
	if err := render(c.out, []string{"Table", "Column", "Type", "Engine name"}, data); err != nil {
		log.Debug().Err(err).Msg("Render failed")
	}
}

func render(out io.Writer, header []string, data [][]string) error {
	table := tablewriter.NewWriter(out)
	cols := make([]any, len(header))
	for i, h := range header {
		cols[i] = h
	}
	table.Header(cols...)
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// run executes one statement. Queries print their rows.
func (c *console) run(ctx context.Context, stmt string) error {
	start := time.Now()
	head := strings.ToUpper(strings.Fields(stmt)[0])
	if strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "(") {
		return c.query(ctx, stmt, start)
	}
	res, err := c.conn.Exec(ctx, stmt)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d row(s) affected (%s)\n", res.RowsAffected, time.Since(start).Round(time.Millisecond))
	return nil
}

func (c *console) query(ctx context.Context, stmt string, start time.Time) error {
	rows, err := c.conn.Query(ctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	var data [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = cell(v)
		}
		data = append(data, cells)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := render(c.out, cols, data); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d row(s) (%s)\n", len(data), time.Since(start).Round(time.Millisecond))
	return nil
}

func cell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprint(v)
}

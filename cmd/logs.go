package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/trail/cli"
	"github.com/grovetools/trail/logging"
	"github.com/grovetools/trail/pkg/paths"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

const daemonComponent = "traild"

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's log",
		Long: `Prints the daemon's most recent log file.

Examples:
  # Follow the daemon log
  trail logs -f

  # Last 50 lines as JSON Lines
  trail logs --tail 50 --json
`,
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of the log (default: all)")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	logger := cli.GetLogger(cmd)
	opts := cli.GetOptions(cmd)
	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")

	var logCfg logging.Config
	if layered, err := cli.LoadConfig(cmd); err == nil {
		_ = layered.Final.UnmarshalExtension("logging", &logCfg)
	}

	path := logCfg.File.Path
	if path == "" {
		var err error
		path, err = findLatestLogFile(paths.LogsDir(), daemonComponent)
		if err != nil {
			return err
		}
	}
	logger.WithField("log_file", path).Debug("Reading daemon log")

	emit := func(line string) {
		if opts.JSONOutput {
			printLogJSON(cmd.OutOrStdout(), line)
		} else {
			printLogText(cmd.OutOrStdout(), line)
		}
	}

	offset, err := printTail(path, tailLines, emit)
	if err != nil {
		return err
	}
	if !follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to follow %s: %w", path, err)
	}
	defer t.Cleanup()

	go func() {
		<-cmd.Context().Done()
		_ = t.Stop()
	}()

	for line := range t.Lines {
		if line.Err != nil {
			logger.WithError(line.Err).Debug("Tail error")
			continue
		}
		emit(line.Text)
	}
	return nil
}

// findLatestLogFile returns the most recently modified <component>-*.log in dir.
func findLatestLogFile(dir, component string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, component+"-*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s log files found in %s", component, dir)
	}

	var latest string
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest, latestMod = m, info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no readable %s log files in %s", component, dir)
	}
	return latest, nil
}

// printTail prints the last n lines of path (all when n < 0) and returns
// the offset reading stopped at.
func printTail(path string, n int, emit func(string)) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var lines []string
	var offset int64
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if strings.HasSuffix(line, "\n") {
			offset += int64(len(line))
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			// A partial last line is left for the follower.
			break
		}
	}

	start := 0
	if n >= 0 && len(lines) > n {
		start = len(lines) - n
	}
	for _, line := range lines[start:] {
		if line != "" {
			emit(line)
		}
	}
	return offset, nil
}

// printLogJSON prints a log line as JSON, wrapping lines that are not JSON.
func printLogJSON(w io.Writer, line string) {
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(line), &logMap); err != nil {
		logMap = map[string]interface{}{"raw_line": line}
	}
	data, _ := json.Marshal(logMap)
	fmt.Fprintln(w, string(data))
}

var (
	logMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	logError = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	logWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	logInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// printLogText pretty-prints JSON log lines; text lines are passed through.
func printLogText(w io.Writer, line string) {
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(line), &logMap); err != nil {
		fmt.Fprintln(w, line)
		return
	}

	ts, _ := logMap["time"].(string)
	level, _ := logMap["level"].(string)
	msg, _ := logMap["msg"].(string)
	component, _ := logMap["component"].(string)

	parsedTime, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		parsedTime, _ = time.Parse(time.RFC3339, ts)
	}

	var levelStyle lipgloss.Style
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		levelStyle = logError
	case "warning":
		levelStyle = logWarn
	case "info":
		levelStyle = logInfo
	default:
		levelStyle = logMuted
	}

	var keys []string
	for k := range logMap {
		if k != "time" && k != "level" && k != "msg" && k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", logMuted.Render(k), logMap[k]))
	}

	fmt.Fprintf(w, "%s %s %s [%s] %s\n",
		parsedTime.Format("15:04:05"),
		levelStyle.Render(strings.ToUpper(level)),
		msg,
		logMuted.Render(component),
		strings.Join(fields, " "),
	)
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Daemon health at a glance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var st struct {
				Heartbeat      string            `json:"heartbeat"`
				InboxCount     int               `json:"inbox_count"`
				FileChanges    string            `json:"file_changes"`
				Queue          string            `json:"queue"`
				Tasks          string            `json:"tasks"`
				Instances      string            `json:"instances"`
				Threads        map[string]string `json:"threads"`
				ThreadsHealthy bool              `json:"threads_healthy"`
				UptimeSeconds  int               `json:"uptime_seconds"`
			}
			if err := c.get("/status", &st); err != nil {
				return err
			}

			fmt.Println(bold("Howell daemon"), gray(fmt.Sprintf("(up %s)", fmtUptime(st.UptimeSeconds))))
			fmt.Println(st.Heartbeat)
			fmt.Printf("  %s %d unread\n", cyan("inbox:"), st.InboxCount)
			fmt.Printf("  %s %s\n", cyan("files:"), st.FileChanges)
			fmt.Printf("  %s %s\n", cyan("queue:"), st.Queue)
			fmt.Printf("  %s %s\n", cyan("tasks:"), st.Tasks)
			fmt.Printf("  %s %s\n", cyan("agents:"), st.Instances)
			if st.ThreadsHealthy {
				fmt.Printf("  %s %s\n", cyan("workers:"), green("all healthy"))
			} else {
				for name, state := range st.Threads {
					if state != "ok" {
						fmt.Printf("  %s %s %s\n", cyan("worker:"), name, yellow(state))
					}
				}
			}
			return nil
		},
	}
}

func feedCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "feed <message>",
		Short: "Drop a note in the daemon's inbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var resp struct {
				Message string `json:"message"`
			}
			body := map[string]any{"message": strings.Join(args, " "), "source": source}
			if err := c.post("/feed", body, &resp); err != nil {
				return err
			}
			fmt.Println(green(resp.Message))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "ryan", "who the note is from")
	return cmd
}

func recentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "Print the rolling session log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var text string
			if err := c.get("/recent", &text); err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func inboxCmd() *cobra.Command {
	var clear string
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List unread inbox notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if clear != "" {
				var resp struct {
					Result string `json:"result"`
				}
				if err := c.post("/inbox/clear", map[string]any{"filename": clear}, &resp); err != nil {
					return err
				}
				fmt.Println(green(resp.Result))
				return nil
			}

			var resp struct {
				Count int `json:"count"`
				Items []struct {
					Filename string  `json:"filename"`
					Content  string  `json:"content"`
					AgeHours float64 `json:"age_hours"`
				} `json:"items"`
			}
			if err := c.get("/inbox", &resp); err != nil {
				return err
			}
			if resp.Count == 0 {
				fmt.Println(gray("Inbox empty."))
				return nil
			}
			for _, item := range resp.Items {
				fmt.Printf("%s %s\n", bold(item.Filename), gray(fmt.Sprintf("(%.1fh ago)", item.AgeHours)))
				fmt.Println(indent(strings.TrimSpace(item.Content), "  "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&clear, "clear", "", "archive the named note instead of listing")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory, knowledge, procedures, and inbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			var resp struct {
				Results struct {
					KnowledgeGraph []struct {
						Entity       string   `json:"entity"`
						Type         string   `json:"type"`
						Observations []string `json:"observations"`
					} `json:"knowledge_graph"`
					RecentSessions []string `json:"recent_sessions"`
					Pinned         []string `json:"pinned"`
					Procedures     []string `json:"procedures"`
					Inbox          []string `json:"inbox"`
				} `json:"results"`
				TotalHits int `json:"total_hits"`
			}
			if err := c.get("/search?q="+urlQuery(query), &resp); err != nil {
				return err
			}

			if resp.TotalHits == 0 {
				fmt.Println(gray("No hits for: " + query))
				return nil
			}
			r := resp.Results
			for _, e := range r.KnowledgeGraph {
				fmt.Printf("%s %s\n", bold(e.Entity), gray("("+e.Type+")"))
				for _, obs := range e.Observations {
					fmt.Println("  - " + obs)
				}
			}
			printSection("recent sessions", r.RecentSessions)
			printSection("pinned", r.Pinned)
			printSection("procedures", r.Procedures)
			printSection("inbox", r.Inbox)
			fmt.Println(gray(fmt.Sprintf("%d hit(s)", resp.TotalHits)))
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List generation plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			path := "/queue"
			if status != "" {
				path += "?status=" + urlQuery(status)
			}
			var resp struct {
				Summary string `json:"summary"`
				Plans   []struct {
					ID     string `json:"id"`
					Prompt string `json:"prompt"`
					Status string `json:"status"`
					Series string `json:"series"`
				} `json:"plans"`
			}
			if err := c.get(path, &resp); err != nil {
				return err
			}
			fmt.Println(bold(resp.Summary))
			for _, p := range resp.Plans {
				fmt.Printf("  %s %s %s\n", p.ID, statusColor(p.Status), clipString(p.Prompt, 60))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by plan status")
	return cmd
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <plan-id|all>",
		Short: "Approve pending generation plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var resp struct {
				Approved []string `json:"approved"`
				Count    int      `json:"count"`
				Plan     *struct {
					ID string `json:"id"`
				} `json:"plan"`
			}
			if err := c.post("/approve", map[string]any{"id": args[0]}, &resp); err != nil {
				return err
			}
			if args[0] == "all" {
				fmt.Println(green(fmt.Sprintf("Approved %d plan(s): %s", resp.Count, strings.Join(resp.Approved, ", "))))
			} else if resp.Plan != nil {
				fmt.Println(green("Approved " + resp.Plan.ID))
			}
			return nil
		},
	}
}

func tasksCmd() *cobra.Command {
	var status, project string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks on the shared board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			path := "/tasks"
			params := []string{}
			if status != "" {
				params = append(params, "status="+urlQuery(status))
			}
			if project != "" {
				params = append(params, "project="+urlQuery(project))
			}
			if len(params) > 0 {
				path += "?" + strings.Join(params, "&")
			}
			var resp struct {
				Summary string `json:"summary"`
				Tasks   []struct {
					ID        string `json:"id"`
					Title     string `json:"title"`
					Status    string `json:"status"`
					Priority  string `json:"priority"`
					Project   string `json:"project"`
					ClaimedBy string `json:"claimed_by"`
				} `json:"tasks"`
			}
			if err := c.get(path, &resp); err != nil {
				return err
			}
			fmt.Println(bold(resp.Summary))
			for _, t := range resp.Tasks {
				line := fmt.Sprintf("  %s %s [%s] %s", t.ID, statusColor(t.Status), t.Priority, t.Title)
				if t.ClaimedBy != "" {
					line += gray(" @" + t.ClaimedBy)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by task status")
	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	return cmd
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show the task board by column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			type entry struct {
				ID        string `json:"id"`
				Title     string `json:"title"`
				Priority  string `json:"priority"`
				ClaimedBy string `json:"claimed_by"`
				Status    string `json:"status"`
			}
			var board struct {
				Pending    []entry `json:"pending"`
				Claimed    []entry `json:"claimed"`
				InProgress []entry `json:"in_progress"`
				Completed  []entry `json:"completed"`
			}
			if err := c.get("/tasks/board", &board); err != nil {
				return err
			}

			printColumn("PENDING", board.Pending, func(e entry) string {
				return fmt.Sprintf("%s [%s] %s", e.ID, e.Priority, e.Title)
			})
			printColumn("CLAIMED", board.Claimed, func(e entry) string {
				return fmt.Sprintf("%s %s @%s", e.ID, e.Title, e.ClaimedBy)
			})
			printColumn("IN PROGRESS", board.InProgress, func(e entry) string {
				return fmt.Sprintf("%s %s @%s", e.ID, e.Title, e.ClaimedBy)
			})
			printColumn("DONE", board.Completed, func(e entry) string {
				marker := green("ok")
				if e.Status == "failed" {
					marker = red("failed")
				}
				return fmt.Sprintf("%s %s %s", e.ID, e.Title, marker)
			})
			return nil
		},
	}
}

func printColumn[T any](name string, entries []T, format func(T) string) {
	fmt.Println(bold(name))
	if len(entries) == 0 {
		fmt.Println(gray("  (empty)"))
		return
	}
	for _, e := range entries {
		fmt.Println("  " + format(e))
	}
}

func printSection(name string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Println(bold(name))
	for _, line := range lines {
		fmt.Println("  " + line)
	}
}

func statusColor(status string) string {
	switch status {
	case "pending", "scheduled":
		return yellow(status)
	case "approved", "in_progress", "claimed", "running":
		return cyan(status)
	case "completed", "posted":
		return green(status)
	case "failed", "cancelled":
		return red(status)
	}
	return status
}

func fmtUptime(seconds int) string {
	return fmt.Sprintf("%dh%dm", seconds/3600, (seconds%3600)/60)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func clipString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

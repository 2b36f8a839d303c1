package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomkit/loom/internal/config"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the content graph",
	Long: `Search the content graph.

Examples:
  loom search "staged retrieval"
  loom search --mode semantic --limit 3 "optimistic concurrency"
  loom search --gate "what did I write about sqlite"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		mode, _ := cmd.Flags().GetString("mode")
		gate, _ := cmd.Flags().GetBool("gate")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/search?q=%s&mode=%s&limit=%d", url.QueryEscape(query), url.QueryEscape(mode), limit)
		if gate {
			path += "&gate=true"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var out struct {
			Results []struct {
				Node struct {
					ID         string `json:"id"`
					Title      string `json:"title"`
					Text       string `json:"text"`
					SourceType string `json:"source_type"`
				} `json:"node"`
				Score float64 `json:"score"`
				Grade float64 `json:"grade"`
			} `json:"results"`
			Stats *struct {
				Candidates int `json:"candidates"`
				Passed     int `json:"passed"`
			} `json:"stats"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range out.Results {
			header := fmt.Sprintf("Result %d", i+1)
			if r.Node.Title != "" {
				header = fmt.Sprintf("Result %d: %s", i+1, r.Node.Title)
			}
			fmt.Printf("\n%s [%s, score: %.4f]\n", colorize(colorBold, header), r.Node.SourceType, r.Score)
			fmt.Printf("  %s\n", colorize(colorCyan, r.Node.ID))
			text := r.Node.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		if out.Stats != nil {
			fmt.Printf("\n%d of %d candidates passed the quality gate\n", out.Stats.Passed, out.Stats.Candidates)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().String("mode", "hybrid", "search mode: text, semantic, hybrid, or staged")
	searchCmd.Flags().Bool("gate", false, "apply the quality gate to results")
}

// --- node ---

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Create and inspect content nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a content node to the graph",
	Long: `Add a content node to the graph.

Examples:
  loom node add --text "Go channels are typed conduits" --tags notes
  loom node add --file ./chapter.md --title "Chapter 3" --type document`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		sourceType, _ := cmd.Flags().GetString("type")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
			if title == "" {
				title = file
			}
		}

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		req := map[string]any{
			"text":           text,
			"source_type":    sourceType,
			"source_adapter": "cli",
		}
		if title != "" {
			req["title"] = title
		}
		if tags != nil {
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/nodes", req)
		if err != nil {
			return err
		}

		var node struct {
			ID            string `json:"id"`
			URI           string `json:"uri"`
			VersionNumber int    `json:"version_number"`
		}
		if err := decodeJSON(resp, &node); err != nil {
			return err
		}

		printSuccess("Created node %s (v%d) at %s", node.ID, node.VersionNumber, node.URI)
		return nil
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a node as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/nodes/"+args[0])
		if err != nil {
			return err
		}

		var node any
		if err := decodeJSON(resp, &node); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(node)
	},
}

var nodeHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the version history of a node's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/nodes/"+args[0]+"/history")
		if err != nil {
			return err
		}

		var records []struct {
			NodeID        string `json:"node_id"`
			VersionNumber int    `json:"version_number"`
			Operation     string `json:"operation"`
			OperatorID    string `json:"operator_id"`
			CreatedAt     string `json:"created_at"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No history found.")
			return nil
		}

		for _, rec := range records {
			operator := rec.OperatorID
			if operator == "" {
				operator = "-"
			}
			fmt.Printf("%s  v%-3d %-8s %-12s %s\n",
				colorize(colorCyan, rec.NodeID[:8]),
				rec.VersionNumber,
				rec.Operation,
				operator,
				rec.CreatedAt,
			)
		}
		return nil
	},
}

var nodeDiffCmd = &cobra.Command{
	Use:   "diff <from-id> <to-id>",
	Short: "Show a unified diff between two versions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/diff?from=%s&to=%s", url.QueryEscape(args[0]), url.QueryEscape(args[1]))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var out struct {
			Diff string `json:"diff"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if out.Diff == "" {
			fmt.Println("No differences.")
			return nil
		}
		fmt.Print(out.Diff)
		return nil
	},
}

func init() {
	nodeAddCmd.Flags().String("text", "", "text content for the node")
	nodeAddCmd.Flags().String("file", "", "file path to read content from")
	nodeAddCmd.Flags().String("title", "", "title for the node")
	nodeAddCmd.Flags().String("type", "note", "source type (note, document, conversation, ...)")
	nodeAddCmd.Flags().String("tags", "", "comma-separated tags")
	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeShowCmd)
	nodeCmd.AddCommand(nodeHistoryCmd)
	nodeCmd.AddCommand(nodeDiffCmd)
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate <legacy-db-path>",
	Short: "Import a legacy archive database into the graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if dryRun {
			printStep("Counting legacy rows in %s...", args[0])
		} else {
			printStep("Importing %s...", args[0])
		}

		resp, err := client.post(cmd.Context(), "/migrate", map[string]any{
			"legacy_path": args[0],
			"dry_run":     dryRun,
		})
		if err != nil {
			return err
		}

		var report struct {
			BatchID        string   `json:"batch_id"`
			DryRun         bool     `json:"dry_run"`
			Conversations  int      `json:"conversations"`
			Messages       int      `json:"messages"`
			Items          int      `json:"items"`
			Links          int      `json:"links"`
			ProcessedItems int      `json:"processed_items"`
			FailedItems    int      `json:"failed_items"`
			Errors         []string `json:"errors"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printStatus("Conversations", "%d", report.Conversations)
		printStatus("Messages", "%d", report.Messages)
		printStatus("Items", "%d", report.Items)
		printStatus("Links", "%d", report.Links)
		if report.DryRun {
			printSuccess("Dry run complete, nothing imported")
			return nil
		}

		for _, e := range report.Errors {
			printError("%s", e)
		}
		if report.FailedItems > 0 {
			printWarning("Imported %d items, %d failed (batch %s)", report.ProcessedItems, report.FailedItems, report.BatchID)
			return nil
		}
		printSuccess("Imported %d items (batch %s)", report.ProcessedItems, report.BatchID)
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "count legacy rows without importing")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			Nodes         int            `json:"nodes"`
			Links         int            `json:"links"`
			Versions      int            `json:"versions"`
			Vectors       int            `json:"vectors"`
			Buckets       int            `json:"buckets"`
			Books         int            `json:"books"`
			NodesBySource map[string]int `json:"nodes_by_source"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Nodes", "%d", stats.Nodes)
		for src, n := range stats.NodesBySource {
			printStatus("  "+src, "%d", n)
		}
		printStatus("Links", "%d", stats.Links)
		printStatus("Versions", "%d", stats.Versions)
		printStatus("Vectors", "%d", stats.Vectors)
		printStatus("Books", "%d", stats.Books)
		printStatus("Buckets", "%d", stats.Buckets)
		return nil
	},
}

// --- books ---

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Manage harvest books",
}

var booksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List books",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/books")
		if err != nil {
			return err
		}

		var books []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &books); err != nil {
			return err
		}

		if len(books) == 0 {
			fmt.Println("No books found.")
			return nil
		}
		for _, b := range books {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, b.ID[:8]), b.CreatedAt, b.Title)
		}
		return nil
	},
}

var booksCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a book",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/books", map[string]any{
			"title": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var book struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &book); err != nil {
			return err
		}

		printSuccess("Created book %s", book.ID)
		return nil
	},
}

var booksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a book and its committed passages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/books/"+args[0])
		if err != nil {
			return err
		}
		var book struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &book); err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", colorize(colorBold, book.Title), book.ID)

		passResp, err := client.get(cmd.Context(), "/books/"+args[0]+"/passages")
		if err != nil {
			return err
		}
		var passages []struct {
			Text           string `json:"text"`
			CurationStatus string `json:"curation_status"`
		}
		if err := decodeJSON(passResp, &passages); err != nil {
			return err
		}

		if len(passages) == 0 {
			fmt.Println("No committed passages.")
			return nil
		}
		for i, p := range passages {
			marker := " "
			if p.CurationStatus == "gem" {
				marker = colorize(colorYellow, "★")
			}
			text := p.Text
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			fmt.Printf("\n%s %d. %s\n", marker, i+1, text)
		}
		return nil
	},
}

func init() {
	booksCmd.AddCommand(booksListCmd)
	booksCmd.AddCommand(booksCreateCmd)
	booksCmd.AddCommand(booksShowCmd)
}

// --- buckets ---

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Manage harvest buckets",
}

var bucketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List harvest buckets",
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID, _ := cmd.Flags().GetString("book")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/buckets"
		if bookID != "" {
			path += "?book_id=" + url.QueryEscape(bookID)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var buckets []struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			Version    int    `json:"version"`
			Candidates int    `json:"candidates"`
			Approved   int    `json:"approved"`
			Gems       int    `json:"gems"`
			Rejected   int    `json:"rejected"`
		}
		if err := decodeJSON(resp, &buckets); err != nil {
			return err
		}

		if len(buckets) == 0 {
			fmt.Println("No buckets found.")
			return nil
		}
		for _, b := range buckets {
			fmt.Printf("%s  %-11s v%-3d %d candidates, %d approved, %d gems, %d rejected\n",
				colorize(colorCyan, b.ID[:8]),
				b.Status,
				b.Version,
				b.Candidates, b.Approved, b.Gems, b.Rejected,
			)
		}
		return nil
	},
}

var bucketsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a bucket and its passages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/buckets/"+args[0])
		if err != nil {
			return err
		}
		var bucket struct {
			ID      string `json:"id"`
			Status  string `json:"status"`
			Version int    `json:"version"`
		}
		if err := decodeJSON(resp, &bucket); err != nil {
			return err
		}
		fmt.Printf("%s  %s (version %d)\n", colorize(colorBold, bucket.ID), bucket.Status, bucket.Version)

		passResp, err := client.get(cmd.Context(), "/buckets/"+args[0]+"/passages")
		if err != nil {
			return err
		}
		var passages []struct {
			ID       string `json:"id"`
			Sequence string `json:"sequence"`
			Text     string `json:"text"`
		}
		if err := decodeJSON(passResp, &passages); err != nil {
			return err
		}

		for _, p := range passages {
			text := p.Text
			if len(text) > 120 {
				text = text[:120] + "..."
			}
			fmt.Printf("%s  %-9s %s\n", colorize(colorCyan, p.ID[:8]), p.Sequence, text)
		}
		return nil
	},
}

func init() {
	bucketsListCmd.Flags().String("book", "", "filter by book ID")
	bucketsCmd.AddCommand(bucketsListCmd)
	bucketsCmd.AddCommand(bucketsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

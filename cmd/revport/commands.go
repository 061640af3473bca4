package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mossline/revport/internal/content"
	"github.com/mossline/revport/internal/reminder"
	"github.com/mossline/revport/internal/storage"
)

// --- remind ---

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Run one reminder escalation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reminders/run", nil)
		if err != nil {
			return err
		}

		var report reminder.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSuccess("Reminder pass complete")
		printStatus("48h reminders", "%d", report.Sent48h)
		printStatus("7d reminders", "%d", report.Sent7d)
		printStatus("Skipped", "%d", report.Skipped)
		for _, d := range report.Details {
			if d.Outcome == "sent" {
				fmt.Printf("  %s  %s  %s\n", colorize(colorCyan, shortID(d.ItemID)), d.Tier, d.Title)
			} else {
				fmt.Printf("  %s  skipped (%s)  %s\n", colorize(colorYellow, shortID(d.ItemID)), d.Reason, d.Title)
			}
		}
		return nil
	},
}

var remindEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent reminder audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/reminders/events?limit=%d", limit))
		if err != nil {
			return err
		}

		var events []storage.ReminderEvent
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No reminder events found.")
			return nil
		}
		for _, ev := range events {
			line := fmt.Sprintf("%s  %s  %-7s %s",
				ev.CreatedAt.Format("2006-01-02 15:04"),
				shortID(ev.ContentID),
				ev.Outcome,
				ev.Tier,
			)
			if ev.Reason != "" {
				line += "  " + ev.Reason
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	remindEventsCmd.Flags().Int("limit", 50, "maximum number of events to list")
	remindCmd.AddCommand(remindEventsCmd)
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate [client-id]",
	Short: "Queue content generation for a client (or all clients)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")

		req := map[string]string{"admin_notes": notes}
		if len(args) == 1 {
			req["client_id"] = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/generate", req)
		if err != nil {
			return err
		}

		var result struct {
			Status string   `json:"status"`
			JobIDs []string `json:"job_ids"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued %d generation job(s)", len(result.JobIDs))
		return nil
	},
}

func init() {
	generateCmd.Flags().String("notes", "", "extra direction for this generation run")
}

// --- content ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Inspect and review content items",
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List content items",
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID, _ := cmd.Flags().GetString("client")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		path := fmt.Sprintf("/content?limit=%d", limit)
		if clientID != "" {
			path += "&client_id=" + clientID
		}
		if status != "" {
			path += "&status=" + status
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var items []content.Item
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No content found.")
			return nil
		}
		for _, it := range items {
			title := it.Title
			if len(title) > 60 {
				title = title[:60] + "..."
			}
			fmt.Printf("%s  %-12s %-9s %s\n",
				colorize(colorCyan, shortID(it.ID)),
				it.Type,
				statusLabel(it.Status),
				title,
			)
		}
		return nil
	},
}

var contentShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single content item as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/content/"+args[0])
		if err != nil {
			return err
		}

		var item any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	},
}

var contentApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		return reviewContent(cmd, args[0], "approve", feedback)
	},
}

var contentRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		return reviewContent(cmd, args[0], "reject", feedback)
	},
}

func reviewContent(cmd *cobra.Command, id, action, feedback string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), "/content/"+id+"/review", map[string]string{
		"action":   action,
		"feedback": feedback,
	})
	if err != nil {
		return err
	}

	var item content.Item
	if err := decodeJSON(resp, &item); err != nil {
		return err
	}

	printSuccess("Content %s is now %s", shortID(item.ID), item.Status)
	return nil
}

func init() {
	contentListCmd.Flags().String("client", "", "filter by client id")
	contentListCmd.Flags().String("status", "", "filter by status (pending, approved, rejected)")
	contentListCmd.Flags().Int("limit", 50, "maximum number of items to list")
	contentApproveCmd.Flags().String("feedback", "", "reviewer feedback")
	contentRejectCmd.Flags().String("feedback", "", "reviewer feedback")
	contentCmd.AddCommand(contentListCmd)
	contentCmd.AddCommand(contentShowCmd)
	contentCmd.AddCommand(contentApproveCmd)
	contentCmd.AddCommand(contentRejectCmd)
}

// --- clients ---

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage clients",
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/clients")
		if err != nil {
			return err
		}

		var clients []content.Client
		if err := decodeJSON(resp, &clients); err != nil {
			return err
		}

		if len(clients) == 0 {
			fmt.Println("No clients found.")
			return nil
		}
		for _, c := range clients {
			phone := c.PhoneNumber
			if phone == "" {
				phone = "(no phone)"
			}
			fmt.Printf("%s  %-30s %s\n", colorize(colorCyan, shortID(c.ID)), c.CompanyName, phone)
		}
		return nil
	},
}

var clientsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a client",
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		if company == "" {
			return fmt.Errorf("--company is required")
		}
		firstName, _ := cmd.Flags().GetString("first-name")
		phone, _ := cmd.Flags().GetString("phone")
		industry, _ := cmd.Flags().GetString("industry")
		audience, _ := cmd.Flags().GetString("audience")
		goals, _ := cmd.Flags().GetString("goals")
		voice, _ := cmd.Flags().GetString("voice")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/clients", map[string]string{
			"company_name":    company,
			"first_name":      firstName,
			"phone_number":    phone,
			"industry":        industry,
			"target_audience": audience,
			"goals":           goals,
			"brand_voice":     voice,
		})
		if err != nil {
			return err
		}

		var created content.Client
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Created client %s (%s)", created.CompanyName, shortID(created.ID))
		return nil
	},
}

var clientsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a client's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		if company == "" {
			return fmt.Errorf("--company is required")
		}
		firstName, _ := cmd.Flags().GetString("first-name")
		phone, _ := cmd.Flags().GetString("phone")
		industry, _ := cmd.Flags().GetString("industry")
		audience, _ := cmd.Flags().GetString("audience")
		goals, _ := cmd.Flags().GetString("goals")
		voice, _ := cmd.Flags().GetString("voice")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/clients/"+args[0], map[string]string{
			"company_name":    company,
			"first_name":      firstName,
			"phone_number":    phone,
			"industry":        industry,
			"target_audience": audience,
			"goals":           goals,
			"brand_voice":     voice,
		})
		if err != nil {
			return err
		}

		var updated content.Client
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}

		printSuccess("Updated client %s (%s)", updated.CompanyName, shortID(updated.ID))
		return nil
	},
}

var clientsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single client as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/clients/"+args[0])
		if err != nil {
			return err
		}

		var c any
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

func init() {
	clientsAddCmd.Flags().String("company", "", "company name (required)")
	clientsAddCmd.Flags().String("first-name", "", "primary contact first name")
	clientsAddCmd.Flags().String("phone", "", "contact phone number")
	clientsAddCmd.Flags().String("industry", "", "client industry")
	clientsAddCmd.Flags().String("audience", "", "target audience")
	clientsAddCmd.Flags().String("goals", "", "marketing goals")
	clientsAddCmd.Flags().String("voice", "", "brand voice")
	clientsUpdateCmd.Flags().String("company", "", "company name (required)")
	clientsUpdateCmd.Flags().String("first-name", "", "primary contact first name")
	clientsUpdateCmd.Flags().String("phone", "", "contact phone number")
	clientsUpdateCmd.Flags().String("industry", "", "client industry")
	clientsUpdateCmd.Flags().String("audience", "", "target audience")
	clientsUpdateCmd.Flags().String("goals", "", "marketing goals")
	clientsUpdateCmd.Flags().String("voice", "", "brand voice")
	clientsCmd.AddCommand(clientsListCmd)
	clientsCmd.AddCommand(clientsAddCmd)
	clientsCmd.AddCommand(clientsUpdateCmd)
	clientsCmd.AddCommand(clientsShowCmd)
}

// --- sms ---

var smsCmd = &cobra.Command{
	Use:   "sms <to> <message...>",
	Short: "Send a one-off text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to := args[0]
		body := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sms", map[string]string{
			"to":   to,
			"body": body,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Message sent to %s", to)
		return nil
	},
}

// --- helpers ---

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusLabel(s content.Status) string {
	switch s {
	case content.StatusApproved:
		return colorize(colorGreen, string(s))
	case content.StatusRejected:
		return colorize(colorRed, string(s))
	default:
		return string(s)
	}
}

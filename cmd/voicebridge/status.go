package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vango-go/voicebridge/pkg/gateway/handlers"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true).Underline(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Width(18)
)

func newStatusCmd(stdout io.Writer) *cobra.Command {
	var (
		baseURL string
		apiKey  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running gateway's sessions and providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = firstAPIKey(os.Getenv("VOICEBRIDGE_API_KEYS"))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := fetchStatus(ctx, http.DefaultClient, baseURL, apiKey)
			if err != nil {
				return err
			}
			fmt.Fprint(stdout, renderStatus(st))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Gateway base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token (defaults to the first VOICEBRIDGE_API_KEYS entry)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func firstAPIKey(raw string) string {
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			return k
		}
	}
	return ""
}

func fetchStatus(ctx context.Context, client *http.Client, baseURL, apiKey string) (*handlers.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/v1/status", nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var st handlers.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func renderStatus(st *handlers.StatusResponse) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("voicebridge") + "\n\n")

	state := okStyle.Render(st.Status)
	if st.Status != "ok" {
		state = warnStyle.Render(st.Status)
	}
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	row("status", state)
	if st.DrainingSince != nil {
		row("draining since", st.DrainingSince.Format(time.RFC3339))
	}
	if st.Version != "" {
		row("version", st.Version)
	}
	row("uptime", (time.Duration(st.UptimeSeconds) * time.Second).String())
	row("rooms", st.Rooms)
	row("telephony", onOff(st.Telephony))

	vendors := make([]string, 0, len(st.Providers))
	for v := range st.Providers {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)
	for _, v := range vendors {
		row("  "+v, onOff(st.Providers[v]))
	}

	row("active sessions", fmt.Sprint(st.ActiveSessions))
	for _, s := range st.Sessions {
		line := fmt.Sprintf("%s  %s  %s", s.ID, s.Origin, s.Room)
		if s.CallID != "" {
			line += "  " + s.CallID
		}
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return okStyle.Render("configured")
	}
	return warnStyle.Render("missing")
}

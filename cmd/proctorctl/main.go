package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/examtrust/proctor/internal/monitor"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proctorctl",
	Short: "Proctoring monitor CLI",
	Long: `proctorctl is the command-line interface for the proctoring
integrity monitor.

It can drive a simulated exam session against a running proctord, fetch
session records and evidence chains, and hash exam access codes for the
server configuration.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.proctor")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8085"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.proctor/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "proctord base URL (default http://localhost:8085)")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(hashCodeCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── simulate ─────────────────────────────────────────────────────────────────

var (
	simExam      string
	simCandidate string
	simCode      string
	simEvents    []string
	simInterval  time.Duration
	simFinish    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a scripted exam session against a running proctord",
	Long: `Simulate starts a session, submits a scripted sequence of detection
events, and prints every warning and the terminate decision as they happen.

Event names match the wire format: tab_switch, fullscreen_exit,
multiple_faces, suspicious, face_lost, face_found, attention_lost,
attention_regained.

  proctorctl simulate --exam exam-1 --access-code s3cret \
    --event tab_switch --event tab_switch --event tab_switch`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simExam, "exam", "", "exam ID (required)")
	simulateCmd.Flags().StringVar(&simCandidate, "candidate", "cli-candidate", "candidate ID")
	simulateCmd.Flags().StringVar(&simCode, "access-code", "", "exam access code (required)")
	simulateCmd.Flags().StringArrayVar(&simEvents, "event", nil, "event to submit, repeatable; 'type' or 'type:detail'")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 0, "pause between events (e.g. 2s)")
	simulateCmd.Flags().BoolVar(&simFinish, "finish", true, "finish the session and print the record")
	simulateCmd.MarkFlagRequired("exam")        //nolint:errcheck
	simulateCmd.MarkFlagRequired("access-code") //nolint:errcheck
}

func runSimulate(cmd *cobra.Command, args []string) error {
	var start struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
	}
	err := postJSON(serverURL+"/api/v1/sessions", "", map[string]string{
		"examId":      simExam,
		"candidateId": simCandidate,
		"accessCode":  simCode,
	}, &start)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	fmt.Printf("session %s started\n", start.SessionID)

	base := serverURL + "/api/v1/sessions/" + start.SessionID
	for i, ev := range simEvents {
		evType, detail := ev, ""
		if idx := strings.Index(ev, ":"); idx > 0 {
			evType, detail = ev[:idx], ev[idx+1:]
		}

		var out struct {
			State struct {
				RiskScore int  `json:"riskScore"`
				Flagged   bool `json:"flagged"`
				Warnings  int  `json:"warnings"`
			} `json:"state"`
			Warnings []struct {
				Message string `json:"message"`
				Number  int    `json:"number"`
			} `json:"warnings"`
			Termination *struct {
				Reasons    []string `json:"reasons"`
				AutoSubmit bool     `json:"autoSubmit"`
			} `json:"termination"`
		}
		err := postJSON(base+"/events", start.Token, map[string]string{
			"type":   evType,
			"detail": detail,
		}, &out)
		if err != nil {
			return fmt.Errorf("event %d (%s): %w", i+1, evType, err)
		}

		fmt.Printf("[%d] %-18s risk=%-3d flagged=%-5v warnings=%d\n",
			i+1, evType, out.State.RiskScore, out.State.Flagged, out.State.Warnings)
		for _, w := range out.Warnings {
			fmt.Printf("    WARNING #%d: %s\n", w.Number, w.Message)
		}
		if out.Termination != nil {
			fmt.Printf("    TERMINATED (auto-submit=%v): %s\n",
				out.Termination.AutoSubmit, strings.Join(out.Termination.Reasons, "; "))
		}

		if simInterval > 0 && i < len(simEvents)-1 {
			time.Sleep(simInterval)
		}
	}

	if !simFinish {
		return nil
	}

	var rec json.RawMessage
	if err := postJSON(base+"/finish", start.Token, nil, &rec); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	fmt.Println("\nsession record:")
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, rec, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}

// ── record ───────────────────────────────────────────────────────────────────

var recordFormat string

var recordCmd = &cobra.Command{
	Use:   "record <session-id>",
	Short: "Fetch the persisted record of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rec map[string]any
		if err := getJSON(serverURL+"/api/v1/sessions/"+args[0]+"/record", &rec); err != nil {
			return err
		}
		if recordFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, k := range []string{
			"sessionId", "examId", "candidateId", "startedAt", "endedAt",
			"tabSwitches", "fullscreenExits", "noFaceDuration", "multipleFacesCount",
			"attentionAwayDuration", "suspiciousEvents",
			"riskScore", "flagged", "flagReasons", "warnings", "terminated",
		} {
			fmt.Fprintf(tw, "%s\t%v\n", k, rec[k])
		}
		return tw.Flush()
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordFormat, "format", "text", "Output format: text or json")
}

// ── evidence ─────────────────────────────────────────────────────────────────

var evidenceCmd = &cobra.Command{
	Use:   "evidence <session-id>",
	Short: "Fetch and verify a session's evidence chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := serverURL + "/api/v1/sessions/" + args[0] + "/evidence"

		var verify struct {
			Valid bool   `json:"valid"`
			Error string `json:"error"`
		}
		if err := getJSON(base+"/verify", &verify); err != nil {
			return err
		}

		var chain struct {
			Count   int `json:"count"`
			Entries []struct {
				Index     int       `json:"index"`
				Timestamp time.Time `json:"timestamp"`
				Kind      string    `json:"kind"`
				Detail    string    `json:"detail"`
				Hash      string    `json:"hash"`
			} `json:"entries"`
		}
		if err := getJSON(base, &chain); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IDX\tTIME\tKIND\tDETAIL\tHASH")
		for _, e := range chain.Entries {
			hash := e.Hash
			if len(hash) > 12 {
				hash = hash[:12] + "…"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				e.Index, e.Timestamp.Format(time.RFC3339), e.Kind, e.Detail, hash)
		}
		tw.Flush() //nolint:errcheck

		if verify.Valid {
			fmt.Printf("\nchain verified: %d entries intact\n", chain.Count)
			return nil
		}
		return fmt.Errorf("chain verification FAILED: %s", verify.Error)
	},
}

// ── hash-code ────────────────────────────────────────────────────────────────

var hashCodeCmd = &cobra.Command{
	Use:   "hash-code <access-code>",
	Short: "Bcrypt-hash an exam access code for the proctord config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := monitor.HashAccessCode(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the proctorctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("proctorctl %s\n", version)
	},
}

// ── HTTP helpers ─────────────────────────────────────────────────────────────

var httpClient = &http.Client{Timeout: 15 * time.Second}

func postJSON(url, bearer string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(http.MethodPost, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return doJSON(req, out)
}

func getJSON(url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doJSON(req, out)
}

func doJSON(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

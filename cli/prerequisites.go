// Package cli checks the local tools MCP clients need to reach mcpbridge.
package cli

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/zhubert/mcpbridge/exec"
	"github.com/zhubert/mcpbridge/transport"
)

// versionTimeout bounds each version probe so a hung tool cannot stall
// the doctor command.
const versionTimeout = 3 * time.Second

// Prerequisite is an executable a client setup depends on.
type Prerequisite struct {
	Name        string // Command name looked up in PATH
	Required    bool   // Whether the exported client config fails without it
	Description string // Human-readable description
	InstallURL  string // Where to get it
	// VersionArgs are tried in order until one succeeds. Empty skips the
	// version probe.
	VersionArgs [][]string
}

// ClientPrerequisites returns the tools a client needs for kind on this
// platform. The socket transport is reached through netcat (npiperelay for
// the Windows named pipe), so that bridge is required; curl is an optional
// aid for probing the HTTP endpoint by hand.
func ClientPrerequisites(kind transport.Kind) []Prerequisite {
	return clientPrerequisites(kind, runtime.GOOS)
}

func clientPrerequisites(kind transport.Kind, goos string) []Prerequisite {
	switch kind {
	case transport.KindSocket:
		if goos == "windows" {
			return []Prerequisite{
				{
					Name:        "npiperelay",
					Required:    true,
					Description: "npiperelay, bridges client stdio to the named pipe",
					InstallURL:  "https://github.com/jstarks/npiperelay",
				},
			}
		}
		return []Prerequisite{
			{
				Name:        "nc",
				Required:    true,
				Description: "netcat, bridges client stdio to the Unix socket",
				InstallURL:  "https://nmap.org/ncat/",
				VersionArgs: [][]string{{"-h"}},
			},
		}
	case transport.KindHTTP:
		return []Prerequisite{
			{
				Name:        "curl",
				Required:    false,
				Description: "curl (optional, for manual requests)",
				InstallURL:  "https://curl.se/download.html",
				VersionArgs: [][]string{{"--version"}},
			},
		}
	}
	return nil
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // First line of version output if available
	Error        error
}

// Check verifies that a tool is available in PATH
func Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	executor := exec.GetDefaultExecutor()
	path, err := executor.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = probeVersion(ctx, executor, path, prereq.VersionArgs)
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ctx, prereq)
	}
	return results
}

// MissingRequired returns an error naming every required tool that was not
// found, or nil.
func MissingRequired(results []CheckResult) error {
	var missing []string
	for _, r := range results {
		if r.Found || !r.Prerequisite.Required {
			continue
		}
		missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
			r.Prerequisite.Name, r.Prerequisite.Description, r.Prerequisite.InstallURL))
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required client tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

func probeVersion(ctx context.Context, executor exec.CommandExecutor, path string, variants [][]string) string {
	for _, args := range variants {
		probeCtx, cancel := context.WithTimeout(ctx, versionTimeout)
		// netcat prints its banner to stderr.
		output, err := executor.CombinedOutput(probeCtx, path, args...)
		cancel()
		if err != nil && len(output) == 0 {
			continue
		}
		line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
		line = strings.TrimSpace(line)
		if len(line) > 100 {
			line = line[:100] + "..."
		}
		if line != "" {
			return line
		}
	}
	return ""
}

// FormatCheckResults formats check results for display
func FormatCheckResults(kind transport.Kind, results []CheckResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Client prerequisites (%s transport):\n", kind)
	if len(results) == 0 {
		sb.WriteString("  none\n")
	}
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		if r.Found && r.Version != "" {
			fmt.Fprintf(&sb, " (%s)", r.Version)
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

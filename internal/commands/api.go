package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/staybook/staybook-cli/internal/appctx"
	"github.com/staybook/staybook-cli/internal/output"
)

// NewAPICmd creates the api command for raw API access.
func NewAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api <verb> <path>",
		Short: "Raw API access",
		Long: `Make raw requests to any Staybook endpoint.

Requests go through the same session pipeline as every other command:
tokens are attached and refreshed, and 401/403 responses end the session
according to the current route.`,
	}

	cmd.AddCommand(
		newAPIVerbCmd(http.MethodGet, false),
		newAPIVerbCmd(http.MethodPost, true),
		newAPIVerbCmd(http.MethodPut, true),
		newAPIVerbCmd(http.MethodPatch, true),
		newAPIVerbCmd(http.MethodDelete, false),
	)

	return cmd
}

func newAPIVerbCmd(method string, hasBody bool) *cobra.Command {
	var data string
	var jq string

	verb := strings.ToLower(method)
	cmd := &cobra.Command{
		Use:   verb + " <path>",
		Short: method + " request to API",
		Long:  fmt.Sprintf("Make a raw %s request to any Staybook API endpoint.", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			var body any
			if hasBody {
				if data == "" {
					return output.ErrUsage("--data is required")
				}
				raw, err := readData(data, cmd.InOrStdin())
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &body); err != nil {
					return output.ErrUsageHint(
						"Invalid JSON data",
						fmt.Sprintf("JSON parse error: %v", err),
					)
				}
			}

			var query *gojq.Code
			if jq != "" {
				code, err := compileJQ(jq)
				if err != nil {
					return err
				}
				query = code
			}

			path := parsePath(args[0])
			resp, err := app.Client.Do(cmd.Context(), method, path, body)
			if err != nil {
				return err
			}

			result := any(resp.Data)
			if len(resp.Data) == 0 {
				result = map[string]any{}
			}
			if query != nil {
				filtered, err := runJQ(query, output.NormalizeData(result))
				if err != nil {
					return err
				}
				result = filtered
			}

			return app.OK(result,
				output.WithSummary(fmt.Sprintf("%s %s: %s", method, path, apiSummary(resp.Data))),
			)
		},
	}

	if hasBody {
		cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body, @file, or @- for stdin (required)")
		_ = cmd.MarkFlagRequired("data") // Error only if flag doesn't exist
	}
	cmd.Flags().StringVar(&jq, "jq", "", "Filter the response data with a jq expression")

	return cmd
}

// readData resolves a --data value: literal JSON, @path, or @- for stdin.
func readData(data string, stdin io.Reader) ([]byte, error) {
	if !strings.HasPrefix(data, "@") {
		return []byte(data), nil
	}
	name := strings.TrimPrefix(data, "@")
	if name == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(name) //nolint:gosec // G304: path supplied by the user
	if err != nil {
		return nil, output.ErrUsage(fmt.Sprintf("Cannot read %s: %v", name, err))
	}
	return b, nil
}

func compileJQ(expr string) (*gojq.Code, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, output.ErrUsageHint("Invalid --jq expression", err.Error())
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, output.ErrUsageHint("Invalid --jq expression", err.Error())
	}
	return code, nil
}

// runJQ applies code to v. A single result is returned bare; several are
// returned as a list.
func runJQ(code *gojq.Code, v any) (any, error) {
	var results []any
	iter := code.Run(v)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, output.ErrUsageHint("--jq evaluation failed", err.Error())
		}
		results = append(results, r)
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// parsePath extracts and normalizes the API path.
// Handles full URLs, relative paths, and auto-adds leading slash.
func parsePath(input string) string {
	if i := strings.Index(input, "://"); i >= 0 {
		rest := input[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	if !strings.HasPrefix(input, "/") {
		input = "/" + input
	}
	return input
}

// apiSummary generates a summary from the API response.
func apiSummary(data []byte) string {
	if len(data) == 0 {
		return "no content"
	}

	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		return fmt.Sprintf("%d items", len(arr))
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return "API response"
	}

	title := ""
	for _, key := range []string{"name", "title", "email", "id"} {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				title = v
			}
		case float64:
			title = fmt.Sprintf("#%g", v)
		}
		if title != "" {
			break
		}
	}

	if len(title) > 50 {
		title = title[:47] + "..."
	}
	if title != "" {
		return title
	}
	return "API response"
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/serverledge-faas/localfaas/internal/client"
	"github.com/serverledge-faas/localfaas/utils"
	"github.com/spf13/cobra"
)

var (
	invokeHost    string
	invokePort    int
	invokeEvent   string
	invokeFile    string
	invokeHandler string
	invokeModule  string
	invokeArn     string
	invokeVersion string
	invokeTimeout float64

	invokeCmd = &cobra.Command{
		Use:   "invoke",
		Short: "Invoke a handler on a running server",
		Args:  cobra.NoArgs,
		RunE:  invoke,
	}
)

func init() {
	invokeCmd.Flags().StringVarP(&invokeHost, "host", "H", "127.0.0.1", "server host")
	invokeCmd.Flags().IntVarP(&invokePort, "port", "p", 8080, "server port")
	invokeCmd.Flags().StringVarP(&invokeEvent, "event", "e", "{}", "event as JSON")
	invokeCmd.Flags().StringVarP(&invokeFile, "file", "f", "", "handler reference, e.g. handler.handler")
	invokeCmd.Flags().StringVar(&invokeHandler, "handler", "", "exported function name")
	invokeCmd.Flags().StringVarP(&invokeModule, "module", "m", "", "handler source path, relative to the function directory")
	invokeCmd.Flags().StringVar(&invokeArn, "arn", "", "invoked function ARN")
	invokeCmd.Flags().StringVar(&invokeVersion, "version", "", "function version")
	invokeCmd.Flags().Float64VarP(&invokeTimeout, "timeout", "t", 0, "timeout override in seconds")
}

func invoke(cmd *cobra.Command, _ []string) error {
	var event interface{}
	if err := json.Unmarshal([]byte(invokeEvent), &event); err != nil {
		return &ExitError{Code: 64, Err: fmt.Errorf("invalid event: %w", err)}
	}

	request := client.InvocationRequest{
		Arn:     invokeArn,
		Version: invokeVersion,
		Event:   event,
		Module:  invokeModule,
		File:    invokeFile,
		Handler: invokeHandler,
	}
	if cmd.Flags().Changed("timeout") {
		request.Timeout = &invokeTimeout
	}

	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d/", invokeHost, invokePort)
	resp, err := utils.PostJson(url, body)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
		out, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
	}
	if err != nil {
		return fmt.Errorf("invocation failed: %w", err)
	}
	return nil
}

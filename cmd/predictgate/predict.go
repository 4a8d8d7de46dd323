package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/models"
)

func newPredictCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "predict [text]",
		Short: "Send text to a running proxy and print the sentiment",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return errors.New("please enter some text")
			}

			client := &http.Client{Timeout: timeout}
			res, err := predict(client, url, text)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var result models.InferenceResult
			if err := json.Unmarshal(res.Output, &result); err != nil || result.Label == "" {
				fmt.Fprintf(out, "Output: %s\n", res.Output)
			} else {
				fmt.Fprintf(out, "Label:  %s\nScore:  %.4f\n", result.Label, result.Score)
			}
			fmt.Fprintf(out, "Cached: %t\n", res.Cached)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:5000/predict", "proxy predict endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func predict(client *http.Client, url, text string) (*models.PredictResponse, error) {
	body, err := json.Marshal(models.PredictRequest{Data: text})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out models.PredictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

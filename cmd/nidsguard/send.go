package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/nidsguard/pkg/client"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		url        string
		threatType string
		seed       int64
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Submit a sample threat to a running server",
		Long: `Send merges the fixed sample connection with a randomly chosen threat
descriptor, posts it to the prediction endpoint and prints the reply.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("url") {
				a.cfg.Client.URL = url
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			sub, err := pickSubmission(threatType, seed)
			if err != nil {
				return err
			}

			c := client.New(a.cfg.Client.URL, client.WithTimeout(a.cfg.Client.Timeout), client.WithLogger(a.logger))
			resp, err := c.Submit(cmd.Context(), sub)
			if resp != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Status:", resp.StatusCode)
			}
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, resp.Body, "", "  "); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Response: %s\n", pretty.Bytes())
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&url, "url", "", "prediction endpoint (default from config)")
	f.StringVar(&threatType, "type", "", "threat type to send instead of a random one")
	f.Int64Var(&seed, "seed", 0, "random seed (0 = time based)")
	return cmd
}

func pickSubmission(threatType string, seed int64) (client.Submission, error) {
	if threatType != "" {
		var names []string
		for _, t := range client.SampleThreats {
			if strings.EqualFold(t.Type, threatType) {
				return client.NewSubmission(t), nil
			}
			names = append(names, t.Type)
		}
		return client.Submission{}, errors.New("unknown threat type " + threatType + "; choose one of: " + strings.Join(names, ", "))
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return client.RandomSubmission(rand.New(rand.NewSource(seed))), nil
}

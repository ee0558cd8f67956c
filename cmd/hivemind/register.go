package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/registration"
)

func newRegisterCommand(a *app) *cobra.Command {
	var (
		attrs []string
		macs  []string
		ips   []string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register one device report and print the result",
		Example: `  hivemind register --attr device_type=generic --attr brand=Acme --attr model=X1 \
    --mac aa:bb:cc:dd:ee:01 --ip 192.0.2.10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := buildReport(attrs, macs, ips)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			registry, err := a.buildRegistry()
			if err != nil {
				return err
			}
			svc := registration.NewService(a.log, registration.NewPoolStore(pool), registry, registration.Options{})

			res, err := svc.Register(ctx, report)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Report attribute as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&macs, "mac", nil, "MAC address (repeatable or comma-separated)")
	cmd.Flags().StringSliceVar(&ips, "ip", nil, "IP address (repeatable or comma-separated)")
	return cmd
}

// buildReport turns CLI flags into report attributes. --mac and --ip take precedence over
// macs= and ips= attributes.
func buildReport(attrs, macs, ips []string) (plugin.Attributes, error) {
	report := make(plugin.Attributes, len(attrs)+2)
	for _, kv := range attrs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--attr %q: expected key=value", kv)
		}
		report[k] = v
	}
	if len(macs) > 0 {
		report[plugin.KeyMACs] = macs
	}
	if len(ips) > 0 {
		report[plugin.KeyIPs] = ips
	}
	return report, nil
}

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dghubble/oauth1"
	"github.com/spf13/cobra"

	"postpilot/internal/auth"
)

func loginCmd(opts *rootOptions) *cobra.Command {
	var oauthBase string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize postpilot to post on your X/Twitter account",
		Long: `Login runs the PIN based OAuth flow: open the printed URL, authorize
the app, then type the PIN shown by X/Twitter. The access token is kept in
storage, so a storage driver must be configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.RequireStore()
			if err != nil {
				return err
			}

			var popts []auth.PINOption
			if oauthBase != "" {
				base := strings.TrimRight(oauthBase, "/")
				popts = append(popts, auth.WithEndpoint(oauth1.Endpoint{
					RequestTokenURL: base + "/oauth/request_token",
					AuthorizeURL:    base + "/oauth/authorize",
					AccessTokenURL:  base + "/oauth/access_token",
				}))
			}
			flow, err := auth.NewPINFlow(a.Credentials(), popts...)
			if err != nil {
				return err
			}
			url, err := flow.Begin()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Open this URL and authorize the app:")
			fmt.Fprintln(out, "  "+url)
			fmt.Fprint(out, "PIN: ")

			pin, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && strings.TrimSpace(pin) == "" {
				return errors.Wrap(err, "read PIN")
			}
			tok, err := flow.Complete(pin)
			if err != nil {
				return err
			}
			if err := auth.SaveToken(ctx, st, tok); err != nil {
				return err
			}
			fmt.Fprintln(out, "logged in")
			return nil
		},
	}
	cmd.Flags().StringVar(&oauthBase, "oauth-base", "", "OAuth host override")
	_ = cmd.Flags().MarkHidden("oauth-base")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/driveindex/internal/index"
)

// errInvalidCapability makes the process exit 1 without an error message
// after a verify command has reported the rejection itself.
var errInvalidCapability = errors.New("capability rejected")

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Mint and verify download links",
	}

	mint := &cobra.Command{
		Use:   "mint <file-id>",
		Short: "Mint a download link for a raw Drive file id",
		Args:  cobra.ExactArgs(1),
		RunE:  runLinkMint,
	}
	mint.Flags().String("ip", "", "bind the link to this client IP")
	mint.Flags().Duration("ttl", 0, "link lifetime (default file_link_expiry_days)")

	verify := &cobra.Command{
		Use:   "verify <link>",
		Short: "Verify a download link",
		Long: `Verify a download link and print the file id it grants. Exit code 1
when the link is malformed, expired, bound to another IP or forged.`,
		Args: cobra.ExactArgs(1),
		RunE: runLinkVerify,
	}
	verify.Flags().String("ip", "", "client IP presenting the link")

	cmd.AddCommand(mint, verify)

	return cmd
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Mint and verify login session tokens",
	}

	mint := &cobra.Command{
		Use:   "mint <username>",
		Short: "Mint a session token; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionMint,
	}
	mint.Flags().Duration("ttl", 0, "session lifetime (default login_days)")

	verify := &cobra.Command{
		Use:   "verify <token>",
		Short: "Decode a session token and check its expiry",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionVerify,
	}

	cmd.AddCommand(mint, verify)

	return cmd
}

type linkOutput struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type linkClaimsOutput struct {
	FileID    string    `json:"file_id"`
	ExpiresAt time.Time `json:"expires_at"`
	BoundIP   string    `json:"bound_ip,omitempty"`
}

type sessionOutput struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

func runLinkMint(cmd *cobra.Command, args []string) error {
	links, _, err := index.Codecs(resolvedCfg)
	if err != nil {
		return err
	}

	ip, _ := cmd.Flags().GetString("ip")

	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = resolvedCfg.LinkTTL()
	}

	link, err := links.MintUntil(args[0], ip, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("minting link: %w", err)
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), linkOutput{URL: link.URL(), ExpiresAt: link.ExpiresAt.UTC()})
	}

	fmt.Fprintln(cmd.OutOrStdout(), link.URL())

	return nil
}

func runLinkVerify(cmd *cobra.Command, args []string) error {
	links, _, err := index.Codecs(resolvedCfg)
	if err != nil {
		return err
	}

	link, err := parseLink(args[0])
	if err != nil {
		return err
	}

	ip, _ := cmd.Flags().GetString("ip")

	claims, ok := links.Verify(link, ip)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "invalid or expired link")
		return errInvalidCapability
	}

	out := linkClaimsOutput{FileID: claims.FileID, ExpiresAt: claims.ExpiresAt.UTC(), BoundIP: claims.BoundIP}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "File ID: %s\n", out.FileID)
	fmt.Fprintf(w, "Expires: %s\n", out.ExpiresAt.Format(time.RFC3339))

	if out.BoundIP != "" {
		fmt.Fprintf(w, "IP:      %s\n", out.BoundIP)
	}

	return nil
}

func runSessionMint(cmd *cobra.Command, args []string) error {
	_, sessions, err := index.Codecs(resolvedCfg)
	if err != nil {
		return err
	}

	password, err := readSecret(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = resolvedCfg.SessionTTL()
	}

	token, err := sessions.Mint(args[0], password, ttl)
	if err != nil {
		return fmt.Errorf("minting session: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)

	return nil
}

func runSessionVerify(cmd *cobra.Command, args []string) error {
	_, sessions, err := index.Codecs(resolvedCfg)
	if err != nil {
		return err
	}

	sess, ok := sessions.Verify(args[0])
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "invalid or expired session")
		return errInvalidCapability
	}

	out := sessionOutput{Username: sess.Username, ExpiresAt: sess.ExpiresAt.UTC()}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Username: %s\nExpires:  %s\n", out.Username, out.ExpiresAt.Format(time.RFC3339))

	return nil
}

// readSecret reads one line from r, without the line ending.
func readSecret(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSuffix(line, "\r")

	if line == "" {
		return "", errors.New("empty password on stdin")
	}

	return line, nil
}

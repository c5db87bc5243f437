package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
)

const maxLineBytes = 4 << 20

type textOptions struct {
	jsonOut bool
}

func newTextCmd(root *rootOptions) *cobra.Command {
	opts := &textOptions{}

	cmd := &cobra.Command{
		Use:   "text [text...]",
		Short: "Redact text given as arguments or read line by line from stdin",
		Long: `Redact free text. Arguments are joined with spaces and redacted as one
value; with no arguments or "-", every line of stdin is redacted separately.

Examples:
  deidentify text "Jane Doe moved to South Bend"
  cat comments.txt | deidentify text - --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runText(cmd, root, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print one JSON result per value, with findings")
	return cmd
}

func runText(cmd *cobra.Command, root *rootOptions, opts *textOptions, args []string) error {
	cfg, log, err := root.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext(log)
	defer cancel()

	services, err := root.services(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer services.Close()

	emit := func(res *privacy.Result) error {
		if opts.jsonOut {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), res.Text)
		return err
	}

	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		res, err := services.Redactor.Redact(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return emit(res)
	}

	return redactLines(cmd.InOrStdin(), func(line string) error {
		res, err := services.Redactor.Redact(ctx, line)
		if err != nil {
			return err
		}
		return emit(res)
	})
}

func redactLines(r io.Reader, fn func(line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

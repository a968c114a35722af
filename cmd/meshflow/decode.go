package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/drblury/meshflow/internal/runtime/envelope"
	"github.com/drblury/meshflow/internal/runtime/jsoncodec"
)

// runDecode reads one envelope from stdin and prints its JSON document. With
// --port, stdin is a bare application payload for that port instead.
func runDecode(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var pretty bool
	var port int32

	flagSet := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetNormalizeFunc(normalizeFlagName)
	flagSet.BoolVar(&pretty, "pretty", false, "indent the JSON output")
	flagSet.Int32Var(&port, "port", 0, "decode stdin as a bare payload for this port number")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "error: read stdin: %v\n", err)
		return exitFailure
	}

	var doc any
	if flagSet.Changed("port") {
		doc, err = envelope.DecodePayload(port, raw)
	} else {
		doc, err = envelope.Decode(raw)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v (%d bytes)\n", err, len(raw))
		return exitFailure
	}

	var out []byte
	if pretty {
		out, err = jsoncodec.MarshalIndent(doc, "", "  ")
	} else {
		out, err = jsoncodec.Marshal(doc)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: encode: %v\n", err)
		return exitFailure
	}
	out = append(out, '\n')
	if _, err := stdout.Write(out); err != nil {
		fmt.Fprintf(stderr, "error: write: %v\n", err)
		return exitFailure
	}
	return exitOK
}

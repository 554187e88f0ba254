package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"harvester/core"
	"harvester/fim"
	"harvester/ingest"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
)

// field is one resolved accessor value
type field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// inspection is the result of running a payload through classification and
// document building, without publishing it
type inspection struct {
	Kind       string          `json:"kind"`
	Variant    string          `json:"variant"`
	Classified bool            `json:"classified"`
	Operation  string          `json:"operation,omitempty"`
	Component  string          `json:"component,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	Error      string          `json:"error,omitempty"`
	Fields     []field         `json:"fields,omitempty"`
	Document   json.RawMessage `json:"document,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var (
		kind     string
		fromJSON bool
		cluster  string
		node     string
	)

	cmd := &cobra.Command{
		Use:   "inspect <file|->",
		Short: "Decode and classify a payload without publishing it",
		Long: `Decode a delta, sync or control payload, classify it and print the derived
fields and the document that would be published.

Delta and sync payloads are MessagePack. Use --from-json to inspect their JSON
rendering instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			report, err := inspectPayload(cmd.Context(), kind, data, fromJSON, fim.ClusterInfo{Name: cluster, Node: node})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(w, report)
			}
			renderInspection(w, report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", ingest.KindDelta, "Payload kind: delta, sync or control")
	cmd.Flags().BoolVar(&fromJSON, "from-json", false, "Read delta and sync payloads as JSON")
	cmd.Flags().StringVar(&cluster, "cluster", "undefined", "Cluster name stamped on upserted documents")
	cmd.Flags().StringVar(&node, "node", "node01", "Node name stamped on upserted documents")

	return cmd
}

func newEncodeCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "encode <in.json|-> <out|->",
		Short: "Encode a JSON delta or sync message as MessagePack",
		Long:  "Encode the JSON rendering of a delta or sync message into the MessagePack payload accepted by the listener.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			encoded, err := encodeMsgpack(kind, data)
			if err != nil {
				return err
			}

			if args[1] == "-" {
				_, err = cmd.OutOrStdout().Write(encoded)
				return err
			}
			if err := os.WriteFile(args[1], encoded, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[1], err)
			}
			if !quiet {
				successColor.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", len(encoded), args[1])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", ingest.KindDelta, "Payload kind: delta or sync")
	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open payload: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxPayloadFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if len(data) > maxPayloadFileSize {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayloadFileSize)
	}
	return data, nil
}

// encodeMsgpack converts the JSON rendering of a delta or sync message to its wire form
func encodeMsgpack(kind string, data []byte) ([]byte, error) {
	var v interface{}
	switch kind {
	case ingest.KindDelta:
		v = &core.Delta{}
	case ingest.KindSync:
		v = &core.SyncMsg{}
	default:
		return nil, fmt.Errorf("cannot encode %q payloads, expected %s or %s", kind, ingest.KindDelta, ingest.KindSync)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("invalid %s JSON: %w", kind, err)
	}
	return msgpack.Marshal(v)
}

func inspectPayload(ctx context.Context, kind string, data []byte, fromJSON bool, cluster fim.ClusterInfo) (*inspection, error) {
	decode, ok := ingest.DecoderFor(kind)
	if !ok {
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
	if fromJSON && kind != ingest.KindControl {
		encoded, err := encodeMsgpack(kind, data)
		if err != nil {
			return nil, err
		}
		data = encoded
	}

	raw, err := decode(data)
	if err != nil {
		return nil, err
	}

	report := &inspection{Kind: kind, Variant: raw.Type().String()}
	fc, err := core.NewFimContext(raw)
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}

	report.Classified = fc.Classified()
	report.Fields = resolvedFields(fc)
	if !fc.Classified() {
		return report, nil
	}
	report.Operation = fc.Operation().String()
	report.Component = fc.AffectedComponentType().String()
	report.Origin = fc.OriginTable().String()

	var build fim.Handler
	switch fc.Operation() {
	case core.OperationUpsert:
		build = fim.NewBuildElement(cluster)
	case core.OperationDelete:
		build = fim.BuildDeletedElement{}
	}
	if build != nil {
		if err := build.Handle(ctx, fc); err != nil {
			report.Error = err.Error()
			return report, nil
		}
		report.Document = json.RawMessage(fc.SerializedElement())
	}
	return report, nil
}

func resolvedFields(fc *core.FimContext) []field {
	all := []field{
		{"agent_id", fc.AgentID()},
		{"agent_name", fc.AgentName()},
		{"agent_ip", fc.AgentIP()},
		{"agent_version", fc.AgentVersion()},
		{"element_type", fc.ElementType()},
		{"index", fc.Index()},
		{"path_raw", fc.PathRaw()},
		{"path", fc.Path()},
		{"hash_path", fc.HashPath()},
		{"element_id", fc.ElementID()},
		{"value_name", fc.ValueName()},
		{"value_type", fc.ValueType()},
		{"arch", fc.Arch()},
		{"md5", fc.MD5()},
		{"sha1", fc.SHA1()},
		{"sha256", fc.SHA256()},
		{"size", formatUint(fc.Size())},
		{"inode", formatUint(fc.Inode())},
		{"user_name", fc.UserName()},
		{"group_name", fc.GroupName()},
		{"uid", fc.UID()},
		{"gid", fc.GID()},
		{"mtime", formatUint(fc.Mtime())},
	}
	if fc.Mtime() != 0 {
		all = append(all, field{"mtime_iso8601", fc.MtimeISO8601()})
	}
	if fc.AffectedComponentType() == core.ComponentRegistry {
		all = append(all, field{"hive", fc.Hive()}, field{"key", fc.Key()})
	}

	out := all[:0]
	for _, f := range all {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

func formatUint(v uint64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(v, 10)
}

func renderInspection(w io.Writer, r *inspection) {
	headerColor.Fprintln(w, strings.Repeat("═", 63))
	headerColor.Fprintf(w, "  %s payload (%s)\n", r.Kind, r.Variant)
	headerColor.Fprintln(w, strings.Repeat("═", 63))
	fmt.Fprintln(w)

	printSection(w, "Classification")
	printField(w, "Classified", formatBool(r.Classified))
	if r.Classified {
		printField(w, "Operation", r.Operation)
		printField(w, "Component", r.Component)
		printField(w, "Origin", r.Origin)
	}
	if r.Error != "" {
		printField(w, "Error", errorColor.Sprint(r.Error))
	}
	fmt.Fprintln(w)

	if len(r.Fields) > 0 {
		printSection(w, "Fields")
		for _, f := range r.Fields {
			printField(w, f.Name, f.Value)
		}
		fmt.Fprintln(w)
	}

	if len(r.Document) > 0 {
		printSection(w, "Document")
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, r.Document, "  ", "  "); err != nil {
			fmt.Fprintf(w, "  %s\n", r.Document)
		} else {
			fmt.Fprintf(w, "  %s\n", pretty.String())
		}
		fmt.Fprintln(w)
	} else if r.Classified {
		warningColor.Fprintf(w, "  %s events do not produce a single document\n\n", r.Operation)
	}
}

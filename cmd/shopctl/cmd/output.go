package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/panyam/shopauth"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printData pretty prints raw response data
func printData(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// resultError turns a failed result into a command error listing field errors
func resultError(res *shopauth.Result) error {
	e := res.Error
	if e == nil {
		return fmt.Errorf("request failed (HTTP %d): %s", res.Status, res.Message)
	}
	if len(e.Fields) == 0 {
		return e
	}
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var b strings.Builder
	b.WriteString(e.Error())
	for _, f := range fields {
		fmt.Fprintf(&b, "\n  %s: %s", f, strings.Join(e.Fields[f], "; "))
	}
	return errors.New(b.String())
}

// readSecret takes value if set, otherwise the first line of in
func readSecret(in io.Reader, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

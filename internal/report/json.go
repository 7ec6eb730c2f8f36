package report

import (
	"encoding/json"
	"fmt"
	"io"
)

func JSON(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

package cmdutils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crystaldolphin/swbridge/internal/shared/stringutils"
)

const maxPayload = 200

// PrintEvent writes one timestamped line for an event received from the
// worker. The value is rendered as compact JSON and truncated.
func PrintEvent(kind string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	fmt.Printf("%s  %-14s %s\n", time.Now().Format("15:04:05"), kind, stringutils.Truncate(string(data), maxPayload))
}

// PrintJSON writes v as indented JSON.
func PrintJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

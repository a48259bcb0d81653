package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ChannelRef names an output either by number ("7", 7) or by label
// ("clamp"). It accepts JSON numbers and strings.
type ChannelRef string

func (r *ChannelRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = ChannelRef(s)
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("channel must be a number or label: %s", data)
	}
	*r = ChannelRef(strconv.Itoa(n))
	return nil
}

// Number returns the channel number if the reference is numeric.
func (r ChannelRef) Number() (int, bool) {
	n, err := strconv.Atoi(string(r))
	return n, err == nil
}

func RefsOf(chs ...int) []ChannelRef {
	refs := make([]ChannelRef, len(chs))
	for i, ch := range chs {
		refs[i] = ChannelRef(strconv.Itoa(ch))
	}
	return refs
}

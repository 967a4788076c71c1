// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// ID identifies a project, dataset, task, analysis, or prediction.
// The server sends ids as JSON strings in some responses and as
// numbers in others; ID accepts either and always marshals as a
// string.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id must be a string or number, got %s", data)
		}
		*id = ID(n.String())
		return nil
	}
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// pathSegment returns id escaped for use in a URL path.
func (id ID) pathSegment() string {
	return url.PathEscape(string(id))
}

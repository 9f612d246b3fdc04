// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "encoding/json"

func marshalArgs(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	"strings"
)

func checkEnum(op, field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return validationErrorf(op, field, "%q is not one of %s", value, strings.Join(allowed, ", "))
}

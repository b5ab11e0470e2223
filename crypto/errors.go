// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package crypto

import "errors"

// ErrAuthenticationFailed means a ciphertext failed its integrity check:
// tampering, the wrong key, or corruption in transit. It is a per-message,
// recoverable condition, never fatal to a session.
var ErrAuthenticationFailed = errors.New("authentication failed")

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

// Package kwmmesh provides a multi-party WebRTC signaling server which
// negotiates a mesh of unidirectional media links for every room.
package kwmmesh

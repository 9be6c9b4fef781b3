// Copyright 2023-2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http11

import (
	"crypto/tls"
	"encoding/hex"
	"strings"
)

// Request attributes set by ActionReqSSLAttribute and
// ActionReqSSLCertificate.
const (
	AttrCipherSuite      = "http11.tls.cipher_suite"
	AttrKeySize          = "http11.tls.key_size"
	AttrPeerCertificates = "http11.tls.peer_certificates"
	AttrSessionID        = "http11.tls.session_id"
	AttrProtocol         = "http11.tls.protocol"
)

// Request attributes an adapter sets to hand a file to the transport.
const (
	AttrSendfileFilename = "http11.sendfile.filename"
	AttrSendfileStart    = "http11.sendfile.start"
	AttrSendfileEnd      = "http11.sendfile.end"
)

func setSSLAttributes(req *Request, state *tls.ConnectionState) {
	if state == nil {
		return
	}
	suite := tls.CipherSuiteName(state.CipherSuite)
	req.SetAttribute(AttrCipherSuite, suite)
	req.SetAttribute(AttrKeySize, cipherKeySize(suite))
	req.SetAttribute(AttrProtocol, tls.VersionName(state.Version))
	if len(state.TLSUnique) > 0 {
		req.SetAttribute(AttrSessionID, hex.EncodeToString(state.TLSUnique))
	}
	if len(state.PeerCertificates) > 0 {
		req.SetAttribute(AttrPeerCertificates, state.PeerCertificates)
	}
}

// cipherKeySize derives the symmetric key size in bits from the suite name.
func cipherKeySize(suite string) int {
	switch {
	case strings.Contains(suite, "AES_256"), strings.Contains(suite, "CHACHA20"):
		return 256
	case strings.Contains(suite, "AES_128"):
		return 128
	case strings.Contains(suite, "3DES"):
		return 168
	case strings.Contains(suite, "RC4_128"):
		return 128
	default:
		return 0
	}
}

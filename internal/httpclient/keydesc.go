// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
)

// describeKey reports the peer certificate's public key type ("EC" or
// "RSA"), bit size, and a colon-separated hex dump, matching the TLS
// detail schema's {keyType, keyBits, publicKey} fields.
func describeKey(cert *x509.Certificate) (keyType string, keyBits int, publicKeyHex string) {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return "RSA", pub.N.BitLen(), colonHex(pub.N.Bytes())
	case *ecdsa.PublicKey:
		bits := pub.Curve.Params().BitSize
		return "EC", bits, colonHex(append(pub.X.Bytes(), pub.Y.Bytes()...))
	default:
		return "", 0, ""
	}
}

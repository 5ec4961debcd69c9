// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package sharelink

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// maxSealedLink bounds the decrypted size of an invitation.
const maxSealedLink = 4096

// Identity is an age x25519 keypair for receiving invitations.
type Identity struct {
	// PrivateKey is in AGE-SECRET-KEY-1... format.
	PrivateKey string
	// PublicKey is in age1... format and safe to publish.
	PublicKey string
}

// GenerateIdentity returns a new age keypair.
func GenerateIdentity() (Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Identity{}, fmt.Errorf("sharelink: generating age keypair: %w", err)
	}
	return Identity{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Seal encrypts the link's fragment to one or more age public keys and
// returns it base64-encoded.
func Seal(link Link, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("sharelink: at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return "", fmt.Errorf("sharelink: parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("sharelink: creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, link.Fragment()); err != nil {
		return "", fmt.Errorf("sharelink: writing link to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("sharelink: finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open decrypts an invitation produced by Seal with an age private key.
func Open(sealed string, privateKey string) (Link, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(privateKey))
	if err != nil {
		return Link{}, fmt.Errorf("sharelink: parsing private key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return Link{}, fmt.Errorf("sharelink: decoding invitation: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return Link{}, fmt.Errorf("sharelink: decrypting invitation: %w", err)
	}
	plaintext, err := io.ReadAll(io.LimitReader(reader, maxSealedLink))
	if err != nil {
		return Link{}, fmt.Errorf("sharelink: reading invitation: %w", err)
	}
	return Parse(string(plaintext))
}

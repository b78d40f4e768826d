package token

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/amoylab/authcore/internal/auth/types"
)

// UniqueKey identifies the grant a token belongs to. The canonical form is
//
//	username=<username>\nclient_id=<client id>\nscope=<sorted scopes>
//
// digested with MD5. The digest only deduplicates tokens and must stay
// stable for keys already stored.
func UniqueKey(username types.Username, clientID types.ClientID, scopes types.Scopes) string {
	var b strings.Builder
	b.WriteString("username=")
	b.WriteString(string(username))
	b.WriteString("\nclient_id=")
	b.WriteString(string(clientID))
	b.WriteString("\nscope=")
	b.WriteString(scopes.Sorted().Join())

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

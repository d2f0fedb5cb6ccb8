package models

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// EmptyIPList is the persisted address list of an identity that has never
// been seen connecting from any address.
const EmptyIPList = "<none>"

const ipListSeparator = ","

// Identity pairs a player's stable identifier with a display name
type Identity struct {
	ID   uuid.UUID `json:"uuid"`
	Name string    `json:"name"`
}

// IdentityRow is one persisted identity as stored in the identities table
type IdentityRow struct {
	UUID            string `db:"uuid" json:"uuid"`
	Name            string `db:"name" json:"name"`
	IPList          string `db:"iplist" json:"iplist"`
	NameUpdatedAt   int64  `db:"update_name" json:"update_name"`
	IPListUpdatedAt int64  `db:"update_iplist" json:"update_iplist"`
}

// ValidAddress reports whether address is an IPv4 or IPv6 address. Anything
// else could contain the list separator and would not survive EncodeIPList.
func ValidAddress(address string) bool {
	_, err := netip.ParseAddr(address)
	return err == nil
}

// EncodeIPList serializes a set of addresses for storage. The output is
// sorted so that equal sets always produce equal strings.
func EncodeIPList(addresses []string) string {
	if len(addresses) == 0 {
		return EmptyIPList
	}
	sorted := make([]string, len(addresses))
	copy(sorted, addresses)
	sort.Strings(sorted)
	return strings.Join(sorted, ipListSeparator)
}

// DecodeIPList is the inverse of EncodeIPList. Blank entries and duplicates
// are dropped.
func DecodeIPList(ipList string) []string {
	if ipList == "" || ipList == EmptyIPList {
		return nil
	}
	parts := strings.Split(ipList, ipListSeparator)
	seen := make(map[string]struct{}, len(parts))
	addresses := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		addresses = append(addresses, part)
	}
	return addresses
}

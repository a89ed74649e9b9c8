package inventory

import (
	"strings"
)

// ReasonKind is the structured category of a transfer reason
// 移動理由の種別
type ReasonKind string

const (
	ReasonKindNone                 ReasonKind = ""
	ReasonKindNewEquipment         ReasonKind = "new_equipment"
	ReasonKindReplacementEquipment ReasonKind = "replacement_equipment"
	ReasonKindRepaired             ReasonKind = "repaired"
)

// noteSeparator joins a reason label and its free-text note on the wire.
const noteSeparator = " - "

var reasonLabels = map[ReasonKind]string{
	ReasonKindNewEquipment:         "New Equipment",
	ReasonKindReplacementEquipment: "Replacement Equipment",
	ReasonKindRepaired:             "Repaired",
}

// Label returns the display label of the kind
func (k ReasonKind) Label() string {
	return reasonLabels[k]
}

// Reason is a transfer reason: a fixed kind plus an optional note
// 移動理由（種別と任意のメモ）
type Reason struct {
	Kind ReasonKind `json:"kind"`
	Note string     `json:"note,omitempty"`
}

// IsZero reports whether no reason was given
func (r Reason) IsZero() bool {
	return r.Kind == ReasonKindNone
}

// OpensPendingReplacement reports whether a transfer with this reason must be confirmed later
// 交換確認待ちを作成する理由かどうか
func (r Reason) OpensPendingReplacement() bool {
	return r.Kind == ReasonKindReplacementEquipment
}

// String renders the reason in its wire form, e.g. "Replacement Equipment - screen cracked"
func (r Reason) String() string {
	if r.IsZero() {
		return ""
	}
	label := r.Kind.Label()
	if r.Note == "" {
		return label
	}
	return label + noteSeparator + r.Note
}

// ParseReason parses the wire form of a transfer reason. An empty string
// yields the zero Reason. The label must match exactly, optionally followed
// by " - " and a note.
// 移動理由文字列を解析
func ParseReason(s string) (Reason, error) {
	if s == "" {
		return Reason{}, nil
	}
	for _, kind := range []ReasonKind{ReasonKindNewEquipment, ReasonKindReplacementEquipment, ReasonKindRepaired} {
		label := kind.Label()
		if s == label {
			return Reason{Kind: kind}, nil
		}
		if strings.HasPrefix(s, label+noteSeparator) {
			return Reason{Kind: kind, Note: strings.TrimPrefix(s, label+noteSeparator)}, nil
		}
	}
	return Reason{}, NewValidationError("reason", "Invalid reason provided", s)
}

// ConfirmationReason renders the reason recorded on a confirmation entry:
// "Confirmed replacement: <original>" followed by the replaced identifiers
// when either is known.
// 交換確認エントリの理由文字列を生成
func ConfirmationReason(original, replacedAssetNumber, replacedSerialNumber string) string {
	var b strings.Builder
	b.WriteString("Confirmed replacement: ")
	b.WriteString(original)
	if replacedAssetNumber == "" && replacedSerialNumber == "" {
		return b.String()
	}
	b.WriteString(" | Replaced: ")
	if replacedAssetNumber != "" {
		b.WriteString("Asset #")
		b.WriteString(replacedAssetNumber)
	}
	if replacedSerialNumber != "" {
		if replacedAssetNumber != "" {
			b.WriteString(", ")
		}
		b.WriteString("S/N: ")
		b.WriteString(replacedSerialNumber)
	}
	return b.String()
}

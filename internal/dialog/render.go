package dialog

import "amnezia-bot/internal/provisioning"

// Menu hints tell the frontend which keyboard to attach. The dialog
// layer never builds transport keyboards itself.
type Menu string

const (
	MenuNone    Menu = ""
	MenuMain    Menu = "main"
	MenuPeriods Menu = "periods"
)

// Render is the transport-agnostic instruction produced by every
// dispatch: what to say, which keyboard to show, and the optional
// attachments (credential blob, payment link, generated file).
type Render struct {
	Text string
	Menu Menu
	// PeriodAction names the action a period button fires when Menu is
	// MenuPeriods (buy, renew, set price).
	PeriodAction Action

	// Credential, when set, is delivered as a shareable document plus
	// a QR code rather than plain chat text.
	Credential provisioning.Credential
	// PayURL, when set, is rendered as a payment button.
	PayURL string
	// FilePath, when set, is sent as a document (backup, report).
	FilePath string

	// Edit requests replacing the anchor menu message in place.
	Edit            bool
	AnchorMessageID int
}

func text(s string) Render { return Render{Text: s} }
func menu(s string) Render { return Render{Text: s, Menu: MenuMain} }

func periodMenu(s string, action Action) Render {
	return Render{Text: s, Menu: MenuPeriods, PeriodAction: action}
}

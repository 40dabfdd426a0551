// Package reports renders the admin accounts overview as an xlsx file.
package reports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"amnezia-bot/internal/subscription"
)

type Generator struct {
	ledger  *subscription.Ledger
	destDir string
}

func New(ledger *subscription.Ledger, destDir string) (*Generator, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create reports directory")
	}
	return &Generator{ledger: ledger, destDir: destDir}, nil
}

// AccountsOverview writes one row per account: username, owner,
// expiration, last handshake and transfer totals.
func (g *Generator) AccountsOverview(ctx context.Context) (string, error) {
	infos, err := g.ledger.Overview(ctx)
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Accounts"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"Username", "Owner", "Expiration", "Last handshake", "Received, MB", "Sent, MB"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return "", errors.Wrap(err, "failed to write report header")
		}
	}

	for row, info := range infos {
		owner := ""
		if info.Owner != nil {
			owner = fmt.Sprintf("%d", *info.Owner)
		}
		expiration := "unlimited"
		if info.Expiration != nil {
			expiration = info.Expiration.Format("02-01-2006")
		}
		handshake := ""
		if !info.LastHandshake.IsZero() {
			handshake = info.LastHandshake.Format(time.RFC3339)
		}
		values := []any{
			info.Username,
			owner,
			expiration,
			handshake,
			float64(info.ReceiveBytes) / (1 << 20),
			float64(info.TransmitBytes) / (1 << 20),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return "", errors.Wrap(err, "failed to write report row")
			}
		}
	}

	path := filepath.Join(g.destDir,
		"accounts_"+time.Now().Format("2006-01-02_15-04-05")+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", errors.Wrap(err, "failed to save report")
	}
	return path, nil
}

package documents

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FullNumber renders the human-readable fiscal identifier.
// Format: {series}/{year}/{zero-padded sequence}.
func FullNumber(series string, year int, seq int64) string {
	return fmt.Sprintf("%s/%d/%05d", series, year, seq)
}

// FiscalHash chains the emitted document to the previous emission of the
// same tenant and series, making the sequence tamper-evident.
func FiscalHash(prevHash string, tenantID int64, fullNumber string, issueDate time.Time, grandTotal float64) string {
	payload := fmt.Sprintf("%s;%d;%s;%s;%.2f", prevHash, tenantID, fullNumber, issueDate.Format("2006-01-02"), grandTotal)
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

var qrPrinter = message.NewPrinter(language.MustParse("pt-MZ"))

// QRPayload builds the scannable emission summary. Amounts use the
// pt-MZ decimal convention.
func QRPayload(nuit string, fullNumber string, issueDate time.Time, grandTotal, taxTotal float64, hash string) string {
	short := hash
	if len(short) > 16 {
		short = short[:16]
	}
	return qrPrinter.Sprintf("NUIT:%s|DOC:%s|DATA:%s|TOTAL:%.2f MZN|IVA:%.2f MZN|HASH:%s",
		nuit, fullNumber, issueDate.Format("2006-01-02"), grandTotal, taxTotal, short)
}

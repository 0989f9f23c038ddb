package receipt

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"cupos/internal/domain"
)

// vatOf extracts the 10% VAT included in the sale total.
func vatOf(total int64) int64 {
	return total / 11
}

// formatWon groups an amount with thousands separators for print.
func formatWon(amount int64) string {
	raw := strconv.FormatInt(amount, 10)
	negative := strings.HasPrefix(raw, "-")
	if negative {
		raw = raw[1:]
	}
	var b strings.Builder
	for i, r := range raw {
		if i > 0 && (len(raw)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}

// MaskCardNumber hides the middle of a 12-digit card number the way the
// printed slip does. Anything else passes through untouched.
func MaskCardNumber(cardNumber string) string {
	if len(cardNumber) != 12 {
		return cardNumber
	}
	return cardNumber[:4] + "-" + cardNumber[4:6] + "**-****-" + cardNumber[10:]
}

type itemView struct {
	Name   string
	Qty    int
	Amount string
}

type paymentView struct {
	Cash       bool
	Amount     string
	Received   string
	Change     string
	CardNumber string
	ReceiptID  string
}

type receiptView struct {
	Info      domain.StoreInfo
	Timestamp string
	Items     []itemView
	ItemCount int
	Total     string
	Taxable   string
	VAT       string
	Payments  []paymentView
	Refunded  bool
	TxBarcode string
}

func buildView(info domain.StoreInfo, tx domain.Transaction) receiptView {
	view := receiptView{
		Info:      info,
		Timestamp: tx.Timestamp.Format("2006-01-02 15:04:05"),
		ItemCount: len(tx.Items),
		Total:     formatWon(tx.TotalAmt),
		Taxable:   formatWon(tx.TotalAmt - vatOf(tx.TotalAmt)),
		VAT:       formatWon(vatOf(tx.TotalAmt)),
		Refunded:  tx.Status == domain.TxStatusRefunded,
		TxBarcode: tx.TxBarcode,
	}
	for _, item := range tx.Items {
		view.Items = append(view.Items, itemView{
			Name:   item.Name,
			Qty:    item.Qty,
			Amount: formatWon(item.Price * int64(item.Qty)),
		})
	}
	for _, payment := range tx.Payments {
		pv := paymentView{
			Cash:   payment.Method == domain.PaymentCash,
			Amount: formatWon(payment.Amount),
		}
		if pv.Cash {
			pv.Received = formatWon(payment.Details.ReceivedAmt)
			pv.Change = formatWon(payment.Details.ChangeAmt)
			pv.ReceiptID = payment.Details.ReceiptID
		} else {
			pv.CardNumber = MaskCardNumber(payment.Details.CardNumber)
		}
		view.Payments = append(view.Payments, pv)
	}
	return view
}

// RenderHTML renders the printable receipt. User-controlled fields (product
// names, store info) are auto-escaped by html/template.
func RenderHTML(info domain.StoreInfo, tx domain.Transaction) (string, error) {
	var buf bytes.Buffer
	if err := receiptHTMLTmpl.Execute(&buf, buildView(info, tx)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderEscpos builds the raw printer job (init, receipt body, paper cut)
// and a plain-text preview of the same lines.
func RenderEscpos(info domain.StoreInfo, tx domain.Transaction) ([]byte, string) {
	view := buildView(info, tx)

	lines := []string{
		view.Info.StoreName,
		"사업자등록번호: " + view.Info.BizNum,
		view.Info.Address,
		view.Info.Owner + " TEL: " + view.Info.Tel,
		"========================",
		view.Timestamp + "  POS-01",
		"------------------------",
	}
	for _, item := range view.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Qty))
		lines = append(lines, fmt.Sprintf("  %s", item.Amount))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("총구매액 : %s", view.Total),
		fmt.Sprintf("과세액   : %s", view.Taxable),
		fmt.Sprintf("부가세   : %s", view.VAT),
	)
	for _, payment := range view.Payments {
		if payment.Cash {
			lines = append(lines,
				fmt.Sprintf("현금     : %s", payment.Received),
				fmt.Sprintf("거스름돈 : %s", payment.Change),
			)
			if payment.ReceiptID != "" {
				lines = append(lines, "현금영수증: "+payment.ReceiptID)
			}
		} else {
			lines = append(lines,
				fmt.Sprintf("신용카드 : %s", payment.Amount),
				"카드번호 : "+payment.CardNumber,
			)
		}
	}
	if view.Refunded {
		lines = append(lines, "******* 환불된 거래 *******")
	}
	lines = append(lines,
		"========================",
		view.TxBarcode,
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return escpos, strings.Join(lines, "\n")
}

// DrawerKickCommand is the standard ESC/POS pulse for the drawer on pin 2.
func DrawerKickCommand() []byte {
	return []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
}

var receiptHTMLTmpl = template.Must(template.New("receipt").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: 'Malgun Gothic', sans-serif; font-size: 9pt; line-height: 1.2; width: 300px; padding: 5px; color: #000; background-color: #fff; }
.center { text-align: center; }
.bold { font-weight: bold; }
.logo { font-size: 24pt; font-weight: 900; }
table { width: 100%; border-collapse: collapse; margin-top: 5px; table-layout: fixed; }
td { vertical-align: middle; padding: 1px 0; }
.col-name { width: 60%; text-align: left; overflow: hidden; }
.col-qty { width: 15%; text-align: left; padding-left: 5px; }
.col-amt { width: 25%; text-align: right; }
.dashed-line { border-top: 1px dashed #000; }
</style>
</head>
<body>
<div class="center"><span class="logo">CU</span></div>
<div style="margin-top: 5px;">
{{.Info.StoreName}}<br>
사업자등록번호: {{.Info.BizNum}}<br>
{{.Info.Address}}<br>
{{.Info.Owner}} TEL: {{.Info.Tel}}
</div>
<div style="margin-top: 5px;">{{.Timestamp}} &nbsp; POS-01</div>
<table>
<thead>
<tr>
<th class="col-name" style="text-align: left; border-top: 1px dashed #000; border-bottom: 1px dashed #000;">상품명</th>
<th class="col-qty" style="text-align: left; border-top: 1px dashed #000; border-bottom: 1px dashed #000;">수량</th>
<th class="col-amt" style="text-align: right; border-top: 1px dashed #000; border-bottom: 1px dashed #000;">금액</th>
</tr>
</thead>
<tbody>
{{range .Items}}
<tr>
<td class="col-name">{{.Name}}</td>
<td class="col-qty">{{.Qty}}</td>
<td class="col-amt">{{.Amount}}</td>
</tr>
{{end}}
<tr><td colspan="3" class="dashed-line" style="padding-top: 5px;"></td></tr>
<tr class="bold" style="font-size: 11pt;">
<td>총 구 매 액</td>
<td class="col-qty">{{.ItemCount}}</td>
<td class="col-amt">{{.Total}}</td>
</tr>
<tr><td colspan="3" class="dashed-line" style="padding-bottom: 5px;"></td></tr>
<tr style="font-size: 8pt;"><td>과 세 액</td><td colspan="2" class="col-amt">{{.Taxable}}</td></tr>
<tr style="font-size: 8pt;"><td>부 가 세</td><td colspan="2" class="col-amt">{{.VAT}}</td></tr>
<tr class="bold" style="font-size: 13pt; border-bottom: 2px solid #000;">
<td>결 제 금 액</td>
<td colspan="2" class="col-amt">{{.Total}}</td>
</tr>
{{range .Payments}}
<tr><td colspan="3" style="border-top: 1px dashed #000; padding: 5px 0 0 0;"></td></tr>
{{if .Cash}}
<tr><td class="bold">현 금</td><td colspan="2" class="col-amt bold">{{.Received}}</td></tr>
<tr><td>거스름돈:</td><td colspan="2" class="col-amt">{{.Change}}</td></tr>
{{if .ReceiptID}}<tr><td colspan="3">현금영수증: {{.ReceiptID}}</td></tr>{{end}}
{{else}}
<tr><td class="bold">신 용 카 드</td><td colspan="2" class="col-amt bold">{{.Amount}}</td></tr>
<tr><td colspan="3">카드번호: {{.CardNumber}}</td></tr>
{{end}}
{{end}}
{{if .Refunded}}
<tr><td colspan="3" class="center bold">******* 환불된 거래 *******</td></tr>
{{end}}
<tr><td colspan="3" class="dashed-line" style="padding-top: 10px;"></td></tr>
<tr>
<td colspan="3" class="center" style="font-size: 8pt;">
환불:30일내 영수증/카드지참시 가능
</td>
</tr>
<tr>
<td colspan="3" class="center" style="padding-top: 15px;">
<span style="font-size: 8pt; letter-spacing: 1px;">{{.TxBarcode}}</span>
</td>
</tr>
</tbody>
</table>
</body>
</html>
`))

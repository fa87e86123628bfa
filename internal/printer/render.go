package printer

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	slipTitle  = "SENHA DE ATENDIMENTO"
	slipFooter = "Aguarde sua vez!"
	lineWidth  = 32
	dateLayout = "02/01/2006 15:04"
	ruleChar   = "-"
)

var (
	escInit        = []byte{0x1b, 0x40}
	escCodePage    = []byte{0x1b, 0x74, 0x02} // PC850 multilingual
	escAlignLeft   = []byte{0x1b, 0x61, 0x00}
	escAlignCenter = []byte{0x1b, 0x61, 0x01}
	escFeed        = []byte{0x1b, 0x64, 0x04}
	gsPartialCut   = []byte{0x1d, 0x56, 0x42, 0x00}
)

func slipLines(job SlipJob, loc *time.Location) []string {
	return []string{
		slipTitle,
		"Senha: " + job.Number,
		"Data: " + job.IssuedAt.In(loc).Format(dateLayout),
		slipFooter,
	}
}

func labelLines(job LabelJob) []string {
	return []string{
		"Nome: " + job.Name,
		"CPF: " + job.NationalID,
		"Senha: " + job.Number,
	}
}

func renderESCPOS(job Job, loc *time.Location) ([]byte, error) {
	var lines []string
	align := escAlignLeft
	switch j := job.(type) {
	case SlipJob:
		lines = slipLines(j, loc)
		align = escAlignCenter
	case LabelJob:
		lines = labelLines(j)
	default:
		return nil, fmt.Errorf("unsupported job %T", job)
	}

	encoder := encoding.ReplaceUnsupported(charmap.CodePage850.NewEncoder())
	var buf bytes.Buffer
	buf.Write(escInit)
	buf.Write(escCodePage)
	buf.Write(align)
	for _, line := range lines {
		encoded, err := encoder.String(line)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", line, err)
		}
		buf.WriteString(encoded)
		buf.WriteByte('\n')
	}
	buf.WriteString(strings.Repeat(ruleChar, lineWidth))
	buf.WriteByte('\n')
	buf.Write(escFeed)
	buf.Write(gsPartialCut)
	return buf.Bytes(), nil
}

var zplEscaper = strings.NewReplacer("^", " ", "~", " ")

func renderZPL(job Job, loc *time.Location) ([]byte, error) {
	var lines []string
	switch j := job.(type) {
	case SlipJob:
		lines = slipLines(j, loc)
	case LabelJob:
		lines = labelLines(j)
	default:
		return nil, fmt.Errorf("unsupported job %T", job)
	}

	var buf bytes.Buffer
	buf.WriteString("^XA^CI28\n")
	for i, line := range lines {
		fmt.Fprintf(&buf, "^FO40,%d^A0N,32,32^FD%s^FS\n", 30+i*45, zplEscaper.Replace(line))
	}
	buf.WriteString("^XZ\n")
	return buf.Bytes(), nil
}

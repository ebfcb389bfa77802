package reqauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Поля конверта подписи, которые не входят в подписываемое тело.
const (
	FieldAPIKey    = "apiKey"
	FieldTimestamp = "timestamp"
	FieldSignature = "signature"
)

var errNoTimestamp = errors.New("timestamp is missing")

// Canonical строит подписываемую строку: текст timestamp + JSON остальных полей
// с отсортированными ключами (encoding/json сортирует ключи map на всех уровнях).
// Вывод совпадает с JSON.stringify: <>& и U+2028/U+2029 не экранируются.
// Одиночные суррогаты и невалидный UTF-8 при разборе становятся U+FFFD,
// поэтому такие запросы не проходят проверку подписи.
func Canonical(payload map[string]any) (string, error) {
	ts, ok := timestampText(payload[FieldTimestamp])
	if !ok {
		return "", errNoTimestamp
	}
	body := make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case FieldAPIKey, FieldTimestamp, FieldSignature:
			continue
		}
		body[k] = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	return ts + unescapeLineSeparators(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// unescapeLineSeparators возвращает \u2028 и \u2029 в виде самих символов.
// Экранированный обратный слеш перед "u2028" не трогает.
func unescapeLineSeparators(b []byte) string {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return string(b)
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+5 < len(b) && string(b[i+2:i+5]) == "202" && (b[i+5] == '8' || b[i+5] == '9') {
			r := '\u2028'
			if b[i+5] == '9' {
				r = '\u2029'
			}
			out = utf8.AppendRune(out, r)
			i += 5
			continue
		}
		// любая другая escape-последовательность копируется целиком
		out = append(out, b[i], b[i+1])
		i++
	}
	return string(out)
}

// Sign считает lowercase hex HMAC-SHA256 канонической строки.
func Sign(payload map[string]any, secret string) (string, error) {
	msg, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return mac(msg, secret), nil
}

func mac(msg, secret string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

// Decode разбирает тело запроса в map, сохраняя числа как json.Number.
func Decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return payload, nil
}

func timestampText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	}
	return "", false
}

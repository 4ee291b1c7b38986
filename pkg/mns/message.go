package mns

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrIntegrity is returned when a message body does not match its advertised MD5.
var ErrIntegrity = errors.New("mns message integrity check failed")

// Message is one message received from a queue. It is immutable once constructed.
type Message struct {
	Queue          string
	ID             string
	BodyMD5        string
	Body           string
	ReceiptHandle  string
	EnqueueAt      int64
	FirstDequeueAt int64
	NextVisibleAt  int64
	DequeueCount   int
	Priority       int
}

type messageXML struct {
	XMLName          xml.Name `xml:"Message"`
	MessageID        string   `xml:"MessageId"`
	MessageBodyMD5   string   `xml:"MessageBodyMD5"`
	MessageBody      string   `xml:"MessageBody"`
	ReceiptHandle    string   `xml:"ReceiptHandle"`
	EnqueueTime      int64    `xml:"EnqueueTime"`
	FirstDequeueTime int64    `xml:"FirstDequeueTime"`
	NextVisibleTime  int64    `xml:"NextVisibleTime"`
	DequeueCount     int      `xml:"DequeueCount"`
	Priority         int      `xml:"Priority"`
}

// NewMessage parses a receive response and verifies the body digest.
func NewMessage(queue string, content []byte) (*Message, error) {
	var doc messageXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mns message: %w", err)
	}

	expected := BodyMD5Of(doc.MessageBody)
	if expected != doc.MessageBodyMD5 {
		return nil, fmt.Errorf("%w: message %s has MD5 %q, expected %q",
			ErrIntegrity, doc.MessageID, doc.MessageBodyMD5, expected)
	}

	return &Message{
		Queue:          queue,
		ID:             doc.MessageID,
		BodyMD5:        doc.MessageBodyMD5,
		Body:           doc.MessageBody,
		ReceiptHandle:  doc.ReceiptHandle,
		EnqueueAt:      doc.EnqueueTime,
		FirstDequeueAt: doc.FirstDequeueTime,
		NextVisibleAt:  doc.NextVisibleTime,
		DequeueCount:   doc.DequeueCount,
		Priority:       doc.Priority,
	}, nil
}

// BodyMD5Of returns the digest form NewMessage expects for body.
func BodyMD5Of(body string) string {
	sum := md5.Sum([]byte(body))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

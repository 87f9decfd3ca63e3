package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	messagePrefix = "m:"
	indexPrefix   = "i:"
	convSep       = 0x00
	seqWidth      = 8
)

// conversationPrefix returns the first key of a conversation's range.
func conversationPrefix(conversation string) []byte {
	k := make([]byte, 0, len(messagePrefix)+len(conversation)+1)
	k = append(k, messagePrefix...)
	k = append(k, conversation...)
	return append(k, convSep)
}

// seqPrefix returns the first key of seq within a conversation.
func seqPrefix(conversation string, seq int64) []byte {
	k := conversationPrefix(conversation)
	return binary.BigEndian.AppendUint64(k, uint64(seq))
}

func messageKey(conversation string, seq int64, id string) []byte {
	return append(seqPrefix(conversation, seq), id...)
}

func indexKey(id string) []byte {
	return append([]byte(indexPrefix), id...)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type parsedKey struct {
	conversation string
	seq          int64
	id           string
}

func parseMessageKey(k []byte) (parsedKey, error) {
	if !bytes.HasPrefix(k, []byte(messagePrefix)) {
		return parsedKey{}, fmt.Errorf("not a message key: %q", k)
	}
	rest := k[len(messagePrefix):]
	sep := bytes.IndexByte(rest, convSep)
	if sep < 0 || len(rest) < sep+1+seqWidth {
		return parsedKey{}, fmt.Errorf("malformed message key: %q", k)
	}
	return parsedKey{
		conversation: string(rest[:sep]),
		seq:          int64(binary.BigEndian.Uint64(rest[sep+1 : sep+1+seqWidth])),
		id:           string(rest[sep+1+seqWidth:]),
	}, nil
}

package dataverse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Conversation retrieval. Omnichannel stores conversations as
// msdyn_ocliveworkitems; the transcript lives in a msdyn_transcripts row
// whose message payload is a base64 JSON attachment on an annotation.

// TranscriptMessage is one utterance from a conversation transcript.
type TranscriptMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedOn string `json:"created_on"`
}

// ListConversations lists recent conversations, optionally filtered to a
// contact.
func (c *Client) ListConversations(ctx context.Context, contactID string, top int) ([]map[string]any, error) {
	selectFields := "msdyn_ocliveworkitemid,msdyn_title,createdon,statecode,statuscode,_msdyn_customer_value"
	path := fmt.Sprintf("msdyn_ocliveworkitems?$select=%s&$orderby=createdon desc&$top=%d", selectFields, clampTop(top))
	if contactID != "" {
		path += fmt.Sprintf("&$filter=_msdyn_customer_value eq %s", NormalizeGUID(contactID))
	}
	return c.GetCollection(ctx, path)
}

// GetConversationTranscript returns the parsed messages of a conversation's
// transcript. A missing transcript returns (nil, nil): "no transcript yet"
// is an answer, not an error.
func (c *Client) GetConversationTranscript(ctx context.Context, conversationID string) ([]TranscriptMessage, error) {
	conversationID = NormalizeGUID(conversationID)

	path := fmt.Sprintf(
		"msdyn_transcripts?$select=msdyn_transcriptid&$filter=_msdyn_liveworkitemid_value eq %s&$orderby=createdon desc&$top=1",
		conversationID,
	)
	transcripts, err := c.GetCollection(ctx, path)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(transcripts) == 0 {
		return nil, nil
	}
	transcriptID, _ := transcripts[0]["msdyn_transcriptid"].(string)
	if transcriptID == "" {
		return nil, nil
	}

	// The message payload is a file attachment on an annotation row.
	annPath := fmt.Sprintf(
		"annotations?$select=annotationid,subject,filename,documentbody&$filter=_objectid_value eq %s&$orderby=createdon desc&$top=1",
		transcriptID,
	)
	annotations, err := c.GetCollection(ctx, annPath)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(annotations) == 0 {
		return nil, nil
	}

	body, _ := annotations[0]["documentbody"].(string)
	if body == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode transcript attachment: %w", err)
	}

	return parseTranscriptPayload(decoded)
}

// parseTranscriptPayload decodes the attachment JSON. The payload is a list
// of chunks each carrying a "Content" string that is itself JSON holding
// the message list; some orgs flatten this to a single message array.
func parseTranscriptPayload(data []byte) ([]TranscriptMessage, error) {
	var chunks []map[string]any
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("parse transcript payload: %w", err)
	}

	var out []TranscriptMessage
	for _, chunk := range chunks {
		content, _ := chunk["Content"].(string)
		if content == "" {
			// Flattened shape: the chunk itself is a message.
			if msg := messageFromMap(chunk); msg != nil {
				out = append(out, *msg)
			}
			continue
		}
		var inner struct {
			Messages []map[string]any `json:"Messages"`
		}
		if err := json.Unmarshal([]byte(content), &inner); err != nil {
			continue
		}
		for _, m := range inner.Messages {
			if msg := messageFromMap(m); msg != nil {
				out = append(out, *msg)
			}
		}
	}
	return out, nil
}

func messageFromMap(m map[string]any) *TranscriptMessage {
	content, _ := m["content"].(string)
	if content == "" {
		content, _ = m["Content"].(string)
	}
	if content == "" {
		return nil
	}
	msg := &TranscriptMessage{Content: content}
	if id, ok := m["id"].(string); ok {
		msg.ID = id
	}
	if created, ok := m["created"].(string); ok {
		msg.CreatedOn = created
	} else if created, ok := m["createdon"].(string); ok {
		msg.CreatedOn = created
	}
	if from, ok := m["from"].(map[string]any); ok {
		if user, ok := from["user"].(map[string]any); ok {
			msg.Sender, _ = user["displayName"].(string)
		}
	}
	if msg.Sender == "" {
		msg.Sender, _ = m["sender"].(string)
	}
	return msg
}

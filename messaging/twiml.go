package messaging

import "github.com/twilio/twilio-go/twiml"

// ContentTypeXML is the content type TwiML replies are served with.
const ContentTypeXML = "application/xml; charset=utf-8"

const emptyResponse = `<?xml version="1.0" encoding="UTF-8"?><Response/>`

func render(out string, err error) []byte {
	if err != nil {
		return []byte(emptyResponse)
	}
	return []byte(out)
}

// VoiceMarkup speaks text and hangs up.
func VoiceMarkup(text string) []byte {
	return render(twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: text, Voice: "alice"},
		&twiml.VoiceHangup{},
	}))
}

// RejectMarkup speaks text and then rejects the call.
func RejectMarkup(text string) []byte {
	return render(twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: text, Voice: "alice"},
		&twiml.VoiceReject{Reason: "rejected"},
	}))
}

// MessageMarkup replies to an inbound SMS with body. An empty body sends
// no reply.
func MessageMarkup(body string) []byte {
	var elems []twiml.Element
	if body != "" {
		elems = append(elems, &twiml.MessagingMessage{Body: body})
	}
	return render(twiml.Messages(elems))
}

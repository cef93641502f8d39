package base

import (
	"bufio"
	"fmt"
	"strconv"
)

// StatusCode is the status code of a RTSP response.
type StatusCode int

// status codes.
const (
	StatusContinue                         StatusCode = 100
	StatusOK                               StatusCode = 200
	StatusLowOnStorageSpace                StatusCode = 250
	StatusMovedPermanently                 StatusCode = 301
	StatusFound                            StatusCode = 302
	StatusSeeOther                         StatusCode = 303
	StatusNotModified                      StatusCode = 304
	StatusUseProxy                         StatusCode = 305
	StatusBadRequest                       StatusCode = 400
	StatusUnauthorized                     StatusCode = 401
	StatusPaymentRequired                  StatusCode = 402
	StatusForbidden                        StatusCode = 403
	StatusNotFound                         StatusCode = 404
	StatusMethodNotAllowed                 StatusCode = 405
	StatusNotAcceptable                    StatusCode = 406
	StatusProxyAuthenticationRequired      StatusCode = 407
	StatusRequestTimeout                   StatusCode = 408
	StatusGone                             StatusCode = 410
	StatusPreconditionFailed               StatusCode = 412
	StatusRequestEntityTooLarge            StatusCode = 413
	StatusRequestURITooLong                StatusCode = 414
	StatusUnsupportedMediaType             StatusCode = 415
	StatusParameterNotUnderstood           StatusCode = 451
	StatusConferenceNotFound               StatusCode = 452
	StatusNotEnoughBandwidth               StatusCode = 453
	StatusSessionNotFound                  StatusCode = 454
	StatusMethodNotValidInThisState        StatusCode = 455
	StatusHeaderFieldNotValidForResource   StatusCode = 456
	StatusInvalidRange                     StatusCode = 457
	StatusParameterIsReadOnly              StatusCode = 458
	StatusAggregateOperationNotAllowed     StatusCode = 459
	StatusOnlyAggregateOperationAllowed    StatusCode = 460
	StatusUnsupportedTransport             StatusCode = 461
	StatusDestinationUnreachable           StatusCode = 462
	StatusDestinationProhibited            StatusCode = 463
	StatusDataTransportNotReadyYet         StatusCode = 464
	StatusNotificationReasonUnknown        StatusCode = 465
	StatusKeyManagementError               StatusCode = 466
	StatusConnectionAuthorizationRequired  StatusCode = 470
	StatusConnectionCredentialsNotAccepted StatusCode = 471
	StatusFailureToEstablishSecureConnect  StatusCode = 472
	StatusInternalServerError              StatusCode = 500
	StatusNotImplemented                   StatusCode = 501
	StatusBadGateway                       StatusCode = 502
	StatusServiceUnavailable               StatusCode = 503
	StatusGatewayTimeout                   StatusCode = 504
	StatusRTSPVersionNotSupported          StatusCode = 505
	StatusOptionNotSupported               StatusCode = 551
	StatusProxyUnavailable                 StatusCode = 553
)

var statusMessages = map[StatusCode]string{
	StatusContinue:                         "Continue",
	StatusOK:                               "OK",
	StatusLowOnStorageSpace:                "Low on Storage Space",
	StatusMovedPermanently:                 "Moved Permanently",
	StatusFound:                            "Found",
	StatusSeeOther:                         "See Other",
	StatusNotModified:                      "Not Modified",
	StatusUseProxy:                         "Use Proxy",
	StatusBadRequest:                       "Bad Request",
	StatusUnauthorized:                     "Unauthorized",
	StatusPaymentRequired:                  "Payment Required",
	StatusForbidden:                        "Forbidden",
	StatusNotFound:                         "Not Found",
	StatusMethodNotAllowed:                 "Method Not Allowed",
	StatusNotAcceptable:                    "Not Acceptable",
	StatusProxyAuthenticationRequired:      "Proxy Authentication Required",
	StatusRequestTimeout:                   "Request Timeout",
	StatusGone:                             "Gone",
	StatusPreconditionFailed:               "Precondition Failed",
	StatusRequestEntityTooLarge:            "Request Entity Too Large",
	StatusRequestURITooLong:                "Request-URI Too Long",
	StatusUnsupportedMediaType:             "Unsupported Media Type",
	StatusParameterNotUnderstood:           "Parameter Not Understood",
	StatusConferenceNotFound:               "Conference Not Found",
	StatusNotEnoughBandwidth:               "Not Enough Bandwidth",
	StatusSessionNotFound:                  "Session Not Found",
	StatusMethodNotValidInThisState:        "Method Not Valid in This State",
	StatusHeaderFieldNotValidForResource:   "Header Field Not Valid for Resource",
	StatusInvalidRange:                     "Invalid Range",
	StatusParameterIsReadOnly:              "Parameter Is Read-Only",
	StatusAggregateOperationNotAllowed:     "Aggregate Operation Not Allowed",
	StatusOnlyAggregateOperationAllowed:    "Only Aggregate Operation Allowed",
	StatusUnsupportedTransport:             "Unsupported Transport",
	StatusDestinationUnreachable:           "Destination Unreachable",
	StatusDestinationProhibited:            "Destination Prohibited",
	StatusDataTransportNotReadyYet:         "Data Transport Not Ready Yet",
	StatusNotificationReasonUnknown:        "Notification Reason Unknown",
	StatusKeyManagementError:               "Key Management Error",
	StatusConnectionAuthorizationRequired:  "Connection Authorization Required",
	StatusConnectionCredentialsNotAccepted: "Connection Credentials Not Accepted",
	StatusFailureToEstablishSecureConnect:  "Failure to Establish Secure Connection",
	StatusInternalServerError:              "Internal Server Error",
	StatusNotImplemented:                   "Not Implemented",
	StatusBadGateway:                       "Bad Gateway",
	StatusServiceUnavailable:               "Service Unavailable",
	StatusGatewayTimeout:                   "Gateway Timeout",
	StatusRTSPVersionNotSupported:          "RTSP Version Not Supported",
	StatusOptionNotSupported:               "Option Not Supported",
	StatusProxyUnavailable:                 "Proxy Unavailable",
}

// StatusMessage returns the reason phrase of a status code.
func StatusMessage(code StatusCode) string {
	return statusMessages[code]
}

// Response is a RTSP response.
type Response struct {
	StatusCode StatusCode

	// filled in from the status code when empty
	StatusMessage string

	Header Header

	Body []byte
}

// Unmarshal reads a response.
func (res *Response) Unmarshal(br *bufio.Reader) error {
	proto, err := readToken(br, ' ', requestMaxProtocol)
	if err != nil {
		return err
	}

	if proto != rtspProtocol10 {
		return fmt.Errorf("expected '%s', got '%s'", rtspProtocol10, proto)
	}

	code, err := readToken(br, ' ', 4)
	if err != nil {
		return err
	}

	tmp, err := strconv.ParseUint(code, 10, 16)
	if err != nil {
		return fmt.Errorf("unable to parse status code")
	}
	res.StatusCode = StatusCode(tmp)

	res.StatusMessage, err = readLineRest(br, 255)
	if err != nil {
		return err
	}

	if res.StatusMessage == "" {
		return fmt.Errorf("empty status message")
	}

	err = res.Header.unmarshal(br)
	if err != nil {
		return err
	}

	res.Body, err = readBody(res.Header, br)
	return err
}

func (res Response) firstLine() string {
	msg := res.StatusMessage
	if msg == "" {
		msg = statusMessages[res.StatusCode]
	}
	return rtspProtocol10 + " " + strconv.FormatInt(int64(res.StatusCode), 10) + " " + msg + "\r\n"
}

// MarshalSize returns the size of the marshaled response.
func (res Response) MarshalSize() int {
	if len(res.Body) != 0 {
		res.Header = res.Header.withContentLength(len(res.Body))
	}
	return len(res.firstLine()) + res.Header.marshalSize() + len(res.Body)
}

// MarshalTo writes the response into buf.
func (res Response) MarshalTo(buf []byte) (int, error) {
	if len(res.Body) != 0 {
		res.Header = res.Header.withContentLength(len(res.Body))
	}

	n := copy(buf, res.firstLine())
	n += res.Header.marshalTo(buf[n:])
	n += copy(buf[n:], res.Body)
	return n, nil
}

// Marshal encodes the response.
func (res Response) Marshal() ([]byte, error) {
	buf := make([]byte, res.MarshalSize())
	n, err := res.MarshalTo(buf)
	return buf[:n], err
}

// String implements fmt.Stringer.
func (res Response) String() string {
	buf, _ := res.Marshal()
	return string(buf)
}

package flows

// tcpServices maps well-known responder ports to KDD service names.
var tcpServices = map[uint16]string{
	7:    "echo",
	9:    "discard",
	11:   "systat",
	13:   "daytime",
	15:   "netstat",
	20:   "ftp_data",
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	37:   "time",
	42:   "name",
	43:   "whois",
	53:   "domain",
	57:   "mtp",
	70:   "gopher",
	79:   "finger",
	80:   "http",
	87:   "link",
	95:   "supdup",
	101:  "hostnames",
	102:  "iso_tsap",
	105:  "csnet_ns",
	109:  "pop_2",
	110:  "pop_3",
	111:  "sunrpc",
	113:  "auth",
	117:  "uucp_path",
	119:  "nntp",
	139:  "netbios_ssn",
	143:  "imap4",
	150:  "sql_net",
	179:  "bgp",
	194:  "IRC",
	210:  "Z39_50",
	389:  "ldap",
	443:  "http_443",
	512:  "exec",
	513:  "login",
	514:  "shell",
	515:  "printer",
	520:  "efs",
	530:  "courier",
	540:  "uucp",
	543:  "klogin",
	544:  "kshell",
	2784: "http_2784",
	6000: "X11",
	8001: "http_8001",
}

var udpServices = map[uint16]string{
	53:  "domain_u",
	69:  "tftp_u",
	123: "ntp_u",
	137: "netbios_ns",
	138: "netbios_dgm",
}

// serviceName names the service of a connection. TCP and UDP use the
// responder port; ICMP uses the message type.
func serviceName(k Key) string {
	switch k.Protocol {
	case "icmp":
		switch k.SrcPort {
		case 0:
			return "ecr_i"
		case 3:
			return "urp_i"
		case 5:
			return "red_i"
		case 8:
			return "eco_i"
		case 13, 14:
			return "tim_i"
		default:
			return "oth_i"
		}
	case "tcp":
		if s, ok := tcpServices[k.DstPort]; ok {
			return s
		}
	case "udp":
		if s, ok := udpServices[k.DstPort]; ok {
			return s
		}
	}
	if k.DstPort < 1024 {
		return "private"
	}
	return "other"
}

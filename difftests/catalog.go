package difftests

import "github.com/difftls/difftests/equiv"

func opensslServerArgs(extra ...string) []string {
	args := []string{
		"s_server",
		"-cert", "{end_cert}",
		"-cert_chain", "{inter_cert}",
		"-key", "{end_key}",
		"-alpn", "hello,world",
		"-accept", "{host}:{port}",
		"-rev",
	}
	return append(args, extra...)
}

// Catalog returns the built-in scenarios in the order they run.
func Catalog() []Scenario {
	return []Scenario{
		{
			Name:        "client unauthenticated",
			Description: "client against a server that does not request a client certificate",
			Listener: &Listener{
				Program:       OpenSSL,
				Args:          opensslServerArgs(),
				Readiness:     PortReadiness,
				ReferenceOnly: true,
			},
			Peers: []Invocation{
				{
					Name:    "insecure",
					Program: Client,
					Args:    []string{"{host}", "{port}", "insecure"},
					Policy:  equiv.Full,
				},
				{
					Name:    "verified",
					Program: Client,
					Args:    []string{"{host}", "{port}", "{ca}"},
					Policy:  equiv.Full,
				},
				{
					Name:    "credentials offered",
					Program: Client,
					Args:    []string{"{host}", "{port}", "{ca}", "{client_key}", "{client_cert}"},
					Policy:  equiv.Full,
				},
			},
		},
		{
			Name:        "client auth",
			Description: "client against a server that requires a client certificate",
			Listener: &Listener{
				Program:       OpenSSL,
				Args:          opensslServerArgs("-Verify", "1", "-CAfile", "{ca}"),
				Readiness:     PortReadiness,
				ReferenceOnly: true,
			},
			Peers: []Invocation{
				{
					Name:    "mutual",
					Program: Client,
					Args:    []string{"{host}", "{port}", "{ca}", "{client_key}", "{client_cert}"},
					Policy:  equiv.Full,
				},
				{
					// the failure is reported differently on stderr and in the exit status
					Name:    "no credentials",
					Program: Client,
					Args:    []string{"{host}", "{port}", "{ca}"},
					Policy:  equiv.StdoutOnly,
				},
			},
		},
		{
			Name:        "client real world",
			Description: "client against a public HTTPS server with the default trust store",
			Peers: []Invocation{
				{
					Program: Client,
					Args:    []string{"example.com", "443", "default"},
					NoEcho:  true,
					Policy:  equiv.Full,
				},
			},
			RequiresNetwork: true,
		},
		{
			Name:        "constants",
			Description: "library constants and version strings",
			Peers:       []Invocation{{Program: Constants, Policy: equiv.Full}},
		},
		{
			Name:        "ciphers",
			Description: "cipher suite lookups",
			Peers:       []Invocation{{Program: Ciphers, Policy: equiv.Full}},
		},
		{
			Name:        "server",
			Description: "helper server answering one HTTPS request",
			Listener: &Listener{
				Program:   Server,
				Args:      []string{"{port}", "{server_key}", "{server_cert}", "unauth"},
				Readiness: MarkerReadiness,
				Compare:   true,
				Policy:    equiv.Full,
			},
			Request: &Invocation{
				Name:    "curl",
				Program: Curl,
				Args:    []string{"-v", "--cacert", "{ca}", "{url}"},
			},
		},
	}
}

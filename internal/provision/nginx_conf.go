package provision

import (
	"bytes"
	"text/template"
)

type siteTemplateData struct {
	Site
	ACMEWebroot     string
	Webroot         string
	CertDir         string
	CredentialsFile string
}

var siteTemplate = template.Must(template.New("site").Parse(`{{define "acme"}}
    location /.well-known/acme-challenge/ {
        root {{.ACMEWebroot}};
    }
{{end}}
{{- define "proxy"}}
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection $http_connection;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_read_timeout 86400;
        proxy_send_timeout 86400;
{{- end -}}
server {
    listen 80;
    listen [::]:80;
    server_name {{.Host}};
{{template "acme" .}}
{{- if .Final}}
    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl;
    listen [::]:443 ssl;
    server_name {{.Host}};

    ssl_certificate {{.CertDir}}/live/{{.Host}}/fullchain.pem;
    ssl_certificate_key {{.CertDir}}/live/{{.Host}}/privkey.pem;
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_ciphers HIGH:!aNULL:!MD5;
    ssl_prefer_server_ciphers on;

    root {{.Webroot}};
{{- if .BasicAuth}}

    auth_basic "Tunnel Access";
    auth_basic_user_file {{.CredentialsFile}};
{{- end}}

    location = / {
        if ($http_upgrade = '') {
            rewrite ^ /{{.Subdomain}}.html last;
        }
{{- template "proxy" .}}
    }

    location = /{{.Subdomain}}.html {
        internal;
    }

    location / {
{{- template "proxy" .}}
    }
}
{{else}}
    location / {
        default_type text/plain;
        return 200 'Certificate provisioning in progress...';
    }
}
{{end -}}
`))

func renderSite(data siteTemplateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := siteTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

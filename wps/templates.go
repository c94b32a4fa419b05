package wps

// Template names, looked up in the template override directory first.
const (
	tplCapabilities = "wps_capabilities.xml"
	tplDescribe     = "wps_describe.xml"
	tplExecute      = "wps_execute.xml"
	tplException    = "wps_exception.xml"
)

// BuiltinTemplates are the Jet templates of the WPS documents.
var BuiltinTemplates = map[string]string{
	tplCapabilities: capabilitiesTemplate,
	tplDescribe:     describeTemplate,
	tplExecute:      executeTemplate,
	tplException:    exceptionTemplate,
}

const capabilitiesTemplate = `<?xml version="1.0" encoding="UTF-8"?>
{{ baseURL := .URL }}<wps:Capabilities xml:lang="en" service="WPS" version="1.0.0" updateSequence="{{ .UpdateSequence }}" xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" xmlns:xlink="http://www.w3.org/1999/xlink" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://www.opengis.net/wps/1.0.0 http://schemas.opengis.net/wps/1.0.0/wpsGetCapabilities_response.xsd">
  <ows:ServiceIdentification>
    <ows:Title>{{ .Title }}</ows:Title>
    <ows:Abstract>{{ .Abstract }}</ows:Abstract>
    <ows:ServiceType>WPS</ows:ServiceType>
    <ows:ServiceTypeVersion>1.0.0</ows:ServiceTypeVersion>
    <ows:Fees>NONE</ows:Fees>
    <ows:AccessConstraints>NONE</ows:AccessConstraints>
  </ows:ServiceIdentification>
  <ows:ServiceProvider>
    <ows:ProviderName>{{ .ProviderName }}</ows:ProviderName>
    <ows:ServiceContact/>
  </ows:ServiceProvider>
  <ows:OperationsMetadata>
{{ range i, op := .Operations }}    <ows:Operation name="{{ op }}">
      <ows:DCP>
        <ows:HTTP>
          <ows:Get xlink:href="{{ baseURL }}?"/>
          <ows:Post xlink:href="{{ baseURL }}"/>
        </ows:HTTP>
      </ows:DCP>
    </ows:Operation>
{{ end }}  </ows:OperationsMetadata>
  <wps:ProcessOfferings>
{{ range i, p := .Processes }}    <wps:Process wps:processVersion="1.0.0">
      <ows:Identifier>{{ p.Identifier }}</ows:Identifier>
      <ows:Title>{{ p.Title }}</ows:Title>
{{ if p.Abstract }}      <ows:Abstract>{{ p.Abstract }}</ows:Abstract>
{{ end }}    </wps:Process>
{{ end }}  </wps:ProcessOfferings>
  <wps:Languages>
    <wps:Default>
      <ows:Language>en-US</ows:Language>
    </wps:Default>
    <wps:Supported>
      <ows:Language>en-US</ows:Language>
    </wps:Supported>
  </wps:Languages>
</wps:Capabilities>
`

const describeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<wps:ProcessDescriptions xml:lang="en" service="WPS" version="1.0.0" xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" xmlns:xlink="http://www.w3.org/1999/xlink" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://www.opengis.net/wps/1.0.0 http://schemas.opengis.net/wps/1.0.0/wpsDescribeProcess_response.xsd">
{{ range i, p := .Processes }}  <ProcessDescription wps:processVersion="1.0.0" statusSupported="true" storeSupported="true">
    <ows:Identifier>{{ p.Identifier }}</ows:Identifier>
    <ows:Title>{{ p.Title }}</ows:Title>
{{ if p.Abstract }}    <ows:Abstract>{{ p.Abstract }}</ows:Abstract>
{{ end }}    <DataInputs>
{{ range j, inp := p.Inputs }}      <Input maxOccurs="{{ inp.MaxOccurs }}" minOccurs="{{ inp.MinOccurs }}">
        <ows:Identifier>{{ inp.Identifier }}</ows:Identifier>
        <ows:Title>{{ inp.Title }}</ows:Title>
{{ if inp.Abstract }}        <ows:Abstract>{{ inp.Abstract }}</ows:Abstract>
{{ end }}{{ if inp.IsLiteral }}        <LiteralData>
          <ows:DataType ows:reference="http://www.w3.org/TR/xmlschema-2/#{{ inp.DataType }}">xs:{{ inp.DataType }}</ows:DataType>
{{ if inp.Allowed }}          <ows:AllowedValues>
{{ range k, v := inp.Allowed }}            <ows:Value>{{ v }}</ows:Value>
{{ end }}          </ows:AllowedValues>
{{ else }}          <ows:AnyValue/>
{{ end }}{{ if inp.Default }}          <DefaultValue>{{ inp.Default }}</DefaultValue>
{{ end }}        </LiteralData>
{{ else if inp.IsComplex }}        <ComplexData>
          <Default>
            <Format>
              <MimeType>{{ inp.DefaultFormat }}</MimeType>
            </Format>
          </Default>
          <Supported>
{{ range k, f := inp.Formats }}            <Format>
              <MimeType>{{ f }}</MimeType>
            </Format>
{{ end }}          </Supported>
        </ComplexData>
{{ else }}        <BoundingBoxData>
          <Default>
            <CRS>EPSG:4326</CRS>
          </Default>
          <Supported>
            <CRS>EPSG:4326</CRS>
            <CRS>EPSG:3857</CRS>
          </Supported>
        </BoundingBoxData>
{{ end }}      </Input>
{{ end }}    </DataInputs>
    <ProcessOutputs>
{{ range j, out := p.Outputs }}      <Output>
        <ows:Identifier>{{ out.Identifier }}</ows:Identifier>
        <ows:Title>{{ out.Title }}</ows:Title>
{{ if out.IsLiteral }}        <LiteralOutput>
          <ows:DataType ows:reference="http://www.w3.org/TR/xmlschema-2/#{{ out.DataType }}">xs:{{ out.DataType }}</ows:DataType>
        </LiteralOutput>
{{ else if out.IsComplex }}        <ComplexOutput>
          <Default>
            <Format>
              <MimeType>{{ out.DefaultFormat }}</MimeType>
            </Format>
          </Default>
          <Supported>
{{ range k, f := out.Formats }}            <Format>
              <MimeType>{{ f }}</MimeType>
            </Format>
{{ end }}          </Supported>
        </ComplexOutput>
{{ else }}        <BoundingBoxOutput>
          <Default>
            <CRS>EPSG:4326</CRS>
          </Default>
          <Supported>
            <CRS>EPSG:4326</CRS>
          </Supported>
        </BoundingBoxOutput>
{{ end }}      </Output>
{{ end }}    </ProcessOutputs>
  </ProcessDescription>
{{ end }}</wps:ProcessDescriptions>
`

const executeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<wps:ExecuteResponse xml:lang="en" service="WPS" version="1.0.0" serviceInstance="{{ .ServiceInstance }}"{{ if .StatusLocation }} statusLocation="{{ .StatusLocation }}"{{ end }} xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" xmlns:xlink="http://www.w3.org/1999/xlink" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://www.opengis.net/wps/1.0.0 http://schemas.opengis.net/wps/1.0.0/wpsExecute_response.xsd">
  <wps:Process wps:processVersion="1.0.0">
    <ows:Identifier>{{ .Identifier }}</ows:Identifier>
    <ows:Title>{{ .Title }}</ows:Title>
  </wps:Process>
  <wps:Status creationTime="{{ .CreationTime }}">
{{ if .Accepted }}    <wps:ProcessAccepted>Process accepted.</wps:ProcessAccepted>
{{ else if .Started }}    <wps:ProcessStarted percentCompleted="{{ .Percent }}">Running</wps:ProcessStarted>
{{ else if .Succeeded }}    <wps:ProcessSucceeded>Process succeeded.</wps:ProcessSucceeded>
{{ else }}    <wps:ProcessFailed>
      <ows:ExceptionReport version="1.1.0">
        <ows:Exception exceptionCode="{{ .ExceptionCode }}"{{ if .ExceptionLocator }} locator="{{ .ExceptionLocator }}"{{ end }}>
          <ows:ExceptionText>{{ .ExceptionText }}</ows:ExceptionText>
        </ows:Exception>
      </ows:ExceptionReport>
    </wps:ProcessFailed>
{{ end }}  </wps:Status>
{{ if .Lineage }}  <wps:DataInputs>
{{ range i, inp := .DataInputs }}    <wps:Input>
      <ows:Identifier>{{ inp.Identifier }}</ows:Identifier>
{{ if inp.Href }}      <wps:Reference xlink:href="{{ inp.Href }}"{{ if inp.MimeType }} mimeType="{{ inp.MimeType }}"{{ end }}/>
{{ else if inp.IsComplex }}      <wps:Data>
        <wps:ComplexData mimeType="{{ inp.MimeType }}">{{ if inp.InlineXML }}{{ inp.Value | raw }}{{ else }}{{ inp.Value }}{{ end }}</wps:ComplexData>
      </wps:Data>
{{ else }}      <wps:Data>
        <wps:LiteralData>{{ inp.Value }}</wps:LiteralData>
      </wps:Data>
{{ end }}    </wps:Input>
{{ end }}  </wps:DataInputs>
  <wps:OutputDefinitions>
{{ range i, od := .OutputDefinitions }}    <wps:Output{{ if od.MimeType }} mimeType="{{ od.MimeType }}"{{ end }}{{ if od.AsReference }} asReference="true"{{ end }}>
      <ows:Identifier>{{ od.Identifier }}</ows:Identifier>
    </wps:Output>
{{ end }}  </wps:OutputDefinitions>
{{ end }}{{ if .Outputs }}  <wps:ProcessOutputs>
{{ range i, o := .Outputs }}    <wps:Output>
      <ows:Identifier>{{ o.Identifier }}</ows:Identifier>
      <ows:Title>{{ o.Title }}</ows:Title>
{{ if o.Href }}      <wps:Reference href="{{ o.Href }}" mimeType="{{ o.MimeType }}"/>
{{ else if o.IsBBox }}      <wps:Data>
        <wps:BoundingBoxData{{ if o.CRS }} crs="{{ o.CRS }}"{{ end }} dimensions="2">
          <ows:LowerCorner>{{ o.LowerCorner }}</ows:LowerCorner>
          <ows:UpperCorner>{{ o.UpperCorner }}</ows:UpperCorner>
        </wps:BoundingBoxData>
      </wps:Data>
{{ else if o.IsComplex }}      <wps:Data>
        <wps:ComplexData mimeType="{{ o.MimeType }}">{{ if o.InlineXML }}{{ o.Value | raw }}{{ else }}{{ o.Value }}{{ end }}</wps:ComplexData>
      </wps:Data>
{{ else }}      <wps:Data>
        <wps:LiteralData{{ if o.DataType }} dataType="xs:{{ o.DataType }}"{{ end }}>{{ o.Value }}</wps:LiteralData>
      </wps:Data>
{{ end }}    </wps:Output>
{{ end }}  </wps:ProcessOutputs>
{{ end }}</wps:ExecuteResponse>
`

const exceptionTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<ows:ExceptionReport xml:lang="en" version="1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://www.opengis.net/ows/1.1 http://schemas.opengis.net/ows/1.1.0/owsExceptionReport.xsd">
  <ows:Exception exceptionCode="{{ .Code }}"{{ if .Locator }} locator="{{ .Locator }}"{{ end }}>
    <ows:ExceptionText>{{ .Text }}</ows:ExceptionText>
  </ows:Exception>
</ows:ExceptionReport>
`

package parser

import "encoding/xml"

// XML shapes for Robot Framework output.xml. Only the parts the pipeline
// consumes are mapped; everything else (keywords, messages, errors) is
// ignored by the decoder.

type robotDocument struct {
	XMLName    xml.Name        `xml:"robot"`
	Suite      *suiteNode      `xml:"suite"`
	Statistics *statisticsNode `xml:"statistics"`
}

type suiteNode struct {
	Name   string      `xml:"name,attr"`
	Suites []suiteNode `xml:"suite"`
	Tests  []testNode  `xml:"test"`
	Status *statusNode `xml:"status"`
}

type testNode struct {
	Name   string      `xml:"name,attr"`
	Tags   []string    `xml:"tag"`
	Status *statusNode `xml:"status"`
}

type statusNode struct {
	Status  string  `xml:"status,attr"`
	Start   string  `xml:"start,attr"`
	Elapsed float64 `xml:"elapsed,attr"`
	Message string  `xml:",chardata"`
}

type statisticsNode struct {
	TotalStats []statNode `xml:"total>stat"`
	TagStats   []statNode `xml:"tag>stat"`
	SuiteStats []statNode `xml:"suite>stat"`
}

type statNode struct {
	Pass int    `xml:"pass,attr"`
	Fail int    `xml:"fail,attr"`
	Skip int    `xml:"skip,attr"`
	Name string `xml:",chardata"`
}
